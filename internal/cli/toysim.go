package cli

import (
	"context"
	"encoding/csv"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/msmaccel/accelerd/internal/client"
	"github.com/msmaccel/accelerd/internal/wire"
)

var (
	toySimURL    string
	toySimSteps  int
	toySimBox    int
	toySimOutdir string
)

// toySimCmd is a self-contained stand-in for a real MD engine: it registers,
// receives a seed, random-walks on a 2D lattice with periodic boundaries and
// reports the written trajectory back. Useful for exercising a server
// without any simulation software installed.
var toySimCmd = &cobra.Command{
	Use:   "toy-sim",
	Short: "Run one toy simulator round against a server",
	RunE:  runToySim,
}

func init() {
	toySimCmd.Flags().StringVar(&toySimURL, "url", "http://127.0.0.1:12345", "Server base URL")
	toySimCmd.Flags().IntVar(&toySimSteps, "steps", 100, "Number of random walk steps")
	toySimCmd.Flags().IntVar(&toySimBox, "box", 10, "Lattice box size")
	toySimCmd.Flags().StringVar(&toySimOutdir, "outdir", "trajs", "Directory for trajectory output")
}

func runToySim(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()

	c := client.New(toySimURL)
	seed, err := c.RegisterSimulator(ctx, "toy")
	if err != nil {
		return err
	}
	color.Cyan("Received seed %s (origin %s, %s:%s)",
		seed.SeedID, seed.Origin, seed.Locator.Protocol, seed.Locator.Path)

	if err := os.MkdirAll(toySimOutdir, 0o755); err != nil {
		return err
	}
	trajectoryID := uuid.NewString()
	outPath, err := filepath.Abs(filepath.Join(toySimOutdir, trajectoryID+".csv"))
	if err != nil {
		return err
	}
	if err := writeWalk(outPath, toySimSteps, toySimBox); err != nil {
		return fmt.Errorf("simulation failed: %w", err)
	}

	err = c.ReportDone(ctx, wire.SimulatorDone{
		TrajectoryID: trajectoryID,
		SeedID:       seed.SeedID,
		Locator:      wire.Locator{Protocol: "localfs", Path: outPath},
	})
	if err != nil {
		return err
	}
	color.Green("Reported trajectory %s (%d steps) to %s", trajectoryID, toySimSteps, toySimURL)
	return nil
}

// writeWalk writes a 2D lattice random walk with periodic boundaries, one
// "x,y" row per frame.
func writeWalk(path string, steps, box int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	x, y := rand.Intn(box), rand.Intn(box)
	for i := 0; i <= steps; i++ {
		if err := w.Write([]string{strconv.Itoa(x), strconv.Itoa(y)}); err != nil {
			return err
		}
		x = mod(x+2*rand.Intn(2)-1, box)
		y = mod(y+2*rand.Intn(2)-1, box)
	}
	w.Flush()
	return w.Error()
}

func mod(a, n int) int {
	return ((a % n) + n) % n
}
