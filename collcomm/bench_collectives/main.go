package main

import (
	"flag"
	"fmt"
	"strconv"
	"strings"

	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/unixpickle/dist-collectives/collcomm"
	"github.com/unixpickle/dist-collectives/collcomm/catalog"
	"github.com/unixpickle/dist-collectives/simulator"
	"github.com/unixpickle/dist-collectives/tensor"
	"k8s.io/klog/v2"
)

// RunInfo describes a specific network configuration.
type RunInfo struct {
	NumNodes int
	Latency  float64
	Rate     float64

	// Switched routes traffic through a switch where each
	// NIC's bandwidth is shared by all of its concurrent
	// transfers, instead of a dedicated link per pair.
	Switched bool
}

// NetworkName describes the network model.
func (r *RunInfo) NetworkName() string {
	if r.Switched {
		return "switched"
	}
	return "links"
}

// Run creates a network and drops each rank into its own
// Goroutine.
func (r *RunInfo) Run(loop *simulator.EventLoop, commFn func(c *collcomm.Comms)) error {
	nodes := simulator.NewNodes(r.NumNodes)
	var network simulator.Network
	if r.Switched {
		switcher := simulator.NewGreedyDropSwitcher(r.NumNodes, r.Rate)
		network = simulator.NewSwitcherNetwork(switcher, nodes, r.Latency)
	} else {
		network = simulator.NewUniformLinkNetwork(nodes, r.Rate, r.Latency)
	}
	collcomm.SpawnComms(loop, network, nodes, commFn)
	return loop.Run()
}

func main() {
	nodesFlag := flag.String("nodes", "2,5,16,32", "comma-separated group sizes")
	sizesFlag := flag.String("sizes", "10,10000,1000000", "comma-separated vector lengths")
	seed := flag.Int64("seed", 0, "seed for the event loop")
	klog.InitFlags(nil)
	flag.Parse()

	var runs []RunInfo
	for _, n := range must.M1(parseInts(*nodesFlag)) {
		runs = append(runs,
			RunInfo{NumNodes: n, Latency: 0.1, Rate: 1e6},
			RunInfo{NumNodes: n, Latency: 1e-4, Rate: 1e9},
			RunInfo{NumNodes: n, Latency: 1e-4, Rate: 1e9, Switched: true},
		)
	}
	vecSizes := must.M1(parseInts(*sizesFlag))
	names := catalog.Names()

	// Markdown table header.
	fmt.Print("| Nodes | Network | Latency | NIC rate | Size ")
	for _, name := range names {
		fmt.Printf("| %s ", name)
	}
	fmt.Println("|")
	for i := 0; i < 5+len(names); i++ {
		fmt.Print("|:--")
	}
	fmt.Println("|")

	// Markdown table body.
	for _, runInfo := range runs {
		for _, size := range vecSizes {
			fmt.Printf(
				"| %d | %s | %s | %s | %d ",
				runInfo.NumNodes,
				runInfo.NetworkName(),
				strconv.FormatFloat(runInfo.Latency, 'f', -1, 64),
				strconv.FormatFloat(runInfo.Rate, 'E', -1, 64),
				size,
			)
			for _, name := range names {
				coll := must.M1(catalog.Lookup(name))
				if coll.PowerOfTwo && !collcomm.IsPowerOfTwo(runInfo.NumNodes) {
					fmt.Print("| n/a ")
					continue
				}
				loop := simulator.NewEventLoopSeed(*seed)
				err := runInfo.Run(loop, func(c *collcomm.Comms) {
					vec := tensor.New(tensor.Float32, size)
					if _, err := coll.Run(c, vec, 0, collcomm.ReduceOpSum); err != nil {
						klog.Fatalf("%s on rank %d: %+v", name, c.Rank(), err)
					}
				})
				if err != nil {
					klog.Fatalf("%s: %+v", name, err)
				}
				fmt.Printf("| %f ", loop.Time())
			}
			fmt.Println("|")
		}
	}
}

func parseInts(list string) ([]int, error) {
	var res []int
	for _, field := range strings.Split(list, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil || n < 1 {
			return nil, errors.Errorf("invalid positive integer %q in %q", field, list)
		}
		res = append(res, n)
	}
	return res, nil
}
