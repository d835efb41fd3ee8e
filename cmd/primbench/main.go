// Copyright 2026 The PrimPool Authors. SPDX-License-Identifier: Apache-2.0

// primbench drives a PrimPool engine over a ResNet-like layer schedule, the way a
// training loop would, and reports per-kind cache statistics. With --workers > 1 it
// also doubles as a smoke test of the registries' locking discipline.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/janpfeifer/must"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/primpool/primpool/backends"
	"github.com/primpool/primpool/prims"
	"github.com/primpool/primpool/types/shapes"

	_ "github.com/primpool/primpool/backends/simplego"
)

var (
	flagBackend    string
	flagBatch      int
	flagSteps      int
	flagWorkers    int
	flagMaxEntries int
)

func main() {
	klog.InitFlags(nil)
	defer klog.Flush()

	rootCmd := &cobra.Command{
		Use:   "primbench",
		Short: "Benchmark PrimPool's kernel memoization over a ResNet-like layer schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
	rootCmd.Flags().StringVar(&flagBackend, "backend", "", "backend configuration, e.g. \"go\"; empty uses PRIMPOOL_BACKEND or the first registered backend")
	rootCmd.Flags().IntVar(&flagBatch, "batch", 32, "batch size of the synthetic layer schedule")
	rootCmd.Flags().IntVar(&flagSteps, "steps", 100, "training steps to simulate")
	rootCmd.Flags().IntVar(&flagWorkers, "workers", 1, "concurrent workers issuing kernel requests")
	rootCmd.Flags().IntVar(&flagMaxEntries, "max-entries", 0, "bound each per-kind registry to this many kernels with LRU eviction; 0 keeps the default unbounded behavior")
	rootCmd.Flags().AddGoFlagSet(flag.CommandLine)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var backend backends.Backend
	if flagBackend == "" {
		backend = must.M1(backends.New())
	} else {
		backend = must.M1(backends.NewWithConfig(flagBackend))
	}
	defer backend.Finalize()
	klog.Infof("primbench: backend %q (%s)", backend.Name(), backend.Description())

	engine := prims.New[float32](backend)
	if flagMaxEntries > 0 {
		engine.SetMaxEntriesPerKind(flagMaxEntries)
	}

	start := time.Now()
	var group errgroup.Group
	for worker := 0; worker < flagWorkers; worker++ {
		group.Go(func() error {
			for step := 0; step < flagSteps; step++ {
				if err := simulateStep(engine, flagBatch); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	stats := engine.Stats()
	var requests uint64
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Kind", "Entries", "Hits", "Misses", "Evictions"})
	for _, s := range stats {
		requests += s.Hits + s.Misses
		table.Append([]string{
			s.Kind.String(),
			humanize.Comma(int64(s.Entries)),
			humanize.Comma(int64(s.Hits)),
			humanize.Comma(int64(s.Misses)),
			humanize.Comma(int64(s.Evictions)),
		})
	}
	table.Render()
	fmt.Printf("%s kernel requests in %s (%s/request), %d live kernels\n",
		humanize.Comma(int64(requests)), elapsed,
		elapsed/time.Duration(max(requests, 1)), engine.NumKernels())
	return nil
}

// simulateStep requests every kernel a ResNet-ish stem + one residual block needs for
// one forward/backward pass. All geometries repeat across steps, so after the first
// step every request must be a cache hit.
func simulateStep(engine *prims.Engine[float32], batch int) error {
	// Stem: 7x7/2 convolution 224x224 -> 112x112, then 3x3/2 max pooling -> 56x56.
	x := shapes.MakeDims(batch, 3, 224, 224)
	w1 := shapes.MakeDims(64, 3, 7, 7)
	b1 := shapes.MakeDims(64)
	y1 := shapes.MakeDims(batch, 64, 112, 112)
	if _, err := engine.ConvForward(x, w1, b1, y1, 2, 2, 3, 3, 3, 3); err != nil {
		return err
	}
	pooled := shapes.MakeDims(batch, 64, 56, 56)
	if _, err := engine.PoolingForward(backends.PoolingMax, y1, pooled, 3, 3, 2, 2, 1, 1, 1, 1); err != nil {
		return err
	}

	// Residual block: two 3x3 convolutions at 56x56 with relu in between.
	w2 := shapes.MakeDims(64, 64, 3, 3)
	for i := 0; i < 2; i++ {
		if _, err := engine.ConvForward(pooled, w2, b1, pooled, 1, 1, 1, 1, 1, 1); err != nil {
			return err
		}
	}
	if _, err := engine.EltwiseForward(backends.EltwiseReLU, pooled, 0); err != nil {
		return err
	}
	if _, err := engine.LRNForward(pooled, 5, 1e-4, 0.75, 2); err != nil {
		return err
	}

	// Backward pass.
	if _, err := engine.LRNBackward(pooled, 5, 1e-4, 0.75, 2); err != nil {
		return err
	}
	if _, err := engine.EltwiseBackward(backends.EltwiseReLU, pooled, 0); err != nil {
		return err
	}
	if _, err := engine.ConvBackwardWeights(pooled, w2, b1, pooled, 1, 1, 1, 1, 1, 1); err != nil {
		return err
	}
	if _, err := engine.ConvBackwardData(pooled, w2, pooled, 1, 1, 1, 1, 1, 1); err != nil {
		return err
	}
	if _, err := engine.PoolingBackward(backends.PoolingMax, y1, pooled, 3, 3, 2, 2, 1, 1, 1, 1); err != nil {
		return err
	}
	if _, err := engine.ConvBackwardWeights(x, w1, b1, y1, 2, 2, 3, 3, 3, 3); err != nil {
		return err
	}
	return nil
}
