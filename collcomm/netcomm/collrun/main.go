// Command collrun runs one collective operation across
// processes connected over TCP.
//
// Start one process per address, for example:
//
//	collrun -addr localhost:7000 -addrs localhost:7000,localhost:7001 -collective allreduce-tree
//	collrun -addr localhost:7001 -addrs localhost:7000,localhost:7001 -collective allreduce-tree
//
// Each rank contributes a vector filled with rank+1.
package main

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/janpfeifer/must"
	"github.com/unixpickle/dist-collectives/collcomm"
	"github.com/unixpickle/dist-collectives/collcomm/catalog"
	"github.com/unixpickle/dist-collectives/collcomm/netcomm"
	"github.com/unixpickle/dist-collectives/tensor"
	"k8s.io/klog/v2"
)

var (
	flagAddr       = flag.String("addr", "", "Address this process listens on.")
	flagAddrs      = flag.String("addrs", "", "Comma-separated addresses of every process, including -addr.")
	flagTimeout    = flag.Duration("timeout", netcomm.DefaultTimeout, "Time allowed for connecting to every process.")
	flagJob        = flag.String("job", "", "Optional job UUID shared by every process.")
	flagNewJob     = flag.Bool("newjob", false, "Print a fresh job UUID and exit.")
	flagCollective = flag.String("collective", "allreduce-tree", "One of: "+strings.Join(catalog.Names(), ", "))
	flagRoot       = flag.Int("root", 0, "Source or destination rank for rooted collectives.")
	flagOp         = flag.String("op", "sum", "Reduction operator: sum, product, max or min.")
	flagLen        = flag.Int("len", 4, "Length of each rank's vector.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if *flagNewJob {
		fmt.Println(uuid.New().String())
		return
	}

	coll := must.M1(catalog.Lookup(*flagCollective))
	op := must.M1(collcomm.ParseReduceOp(*flagOp))
	cfg := netcomm.Config{
		Addr:    *flagAddr,
		Addrs:   strings.Split(*flagAddrs, ","),
		Timeout: *flagTimeout,
		JobID:   *flagJob,
	}

	comm := must.M1(netcomm.Dial(context.Background(), cfg))
	defer comm.Close()

	input := tensor.New(tensor.Float64, *flagLen)
	input.Fill(float64(comm.Rank() + 1))

	start := time.Now()
	result, err := coll.Run(comm, input, *flagRoot, op)
	if err != nil {
		klog.Fatalf("%s failed on rank %d: %+v", coll.Name, comm.Rank(), err)
	}
	elapsed := time.Since(start)
	if result == nil {
		klog.Infof("rank %d: %s done in %v (no result on this rank)", comm.Rank(), coll.Name, elapsed)
	} else {
		klog.Infof("rank %d: %s done in %v: %v", comm.Rank(), coll.Name, elapsed, result.Values())
	}
	klog.Flush()
}
