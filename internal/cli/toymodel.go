package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/msmaccel/accelerd/internal/client"
	"github.com/msmaccel/accelerd/internal/wire"
)

var (
	toyModelURL    string
	toyModelStates int
)

// toyModelCmd stands in for a real model builder: it fetches the trajectory
// list, assigns trajectories to states round-robin with uniform populations
// and submits the result. The point is to drive the server's model_result
// path, not to estimate anything.
var toyModelCmd = &cobra.Command{
	Use:   "toy-model",
	Short: "Build and submit a toy model from the registered trajectories",
	RunE:  runToyModel,
}

func init() {
	toyModelCmd.Flags().StringVar(&toyModelURL, "url", "http://127.0.0.1:12345", "Server base URL")
	toyModelCmd.Flags().IntVar(&toyModelStates, "states", 2, "Number of states in the toy model")
}

func runToyModel(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()

	c := client.New(toyModelURL)
	list, err := c.RegisterModeler(ctx)
	if err != nil {
		return err
	}
	if len(list.Trajectories) == 0 {
		return fmt.Errorf("server has no trajectories yet; run toy-sim first")
	}
	color.Cyan("Fetched %d trajectories", len(list.Trajectories))

	states := toyModelStates
	if states > len(list.Trajectories) {
		states = len(list.Trajectories)
	}
	result := wire.ModelResult{
		ModelID:     uuid.NewString(),
		StateCount:  states,
		Populations: make([]float64, states),
		StateFrames: make([][]wire.FrameRef, states),
	}
	for i := range result.Populations {
		result.Populations[i] = 1 / float64(states)
	}
	for i, t := range list.Trajectories {
		s := i % states
		result.StateFrames[s] = append(result.StateFrames[s], wire.FrameRef{
			TrajectoryID: t.TrajectoryID,
			FrameIndex:   0,
		})
	}

	if err := c.SubmitModel(ctx, result); err != nil {
		return err
	}
	color.Green("Submitted model %s (%d states)", result.ModelID, states)
	return nil
}
