package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"learngraph/application/projections"
	"learngraph/application/services"
	"learngraph/domain/core/aggregates"
	"learngraph/domain/core/valueobjects"
	"learngraph/domain/viewport"
	"learngraph/interfaces/cli"
	pkgerrors "learngraph/pkg/errors"
)

func showCmd() *cobra.Command {
	var zoom, panX, panY float64
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the saved graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			user, err := requireUser(cfg)
			if err != nil {
				return err
			}
			trees, closeTrees, err := openTrees(cfg, logger)
			if err != nil {
				return err
			}
			defer closeTrees()

			rec, err := trees.GetTree(cmd.Context(), user)
			if pkgerrors.IsNotFound(err) {
				fmt.Println("No graph saved yet.")
				return nil
			}
			if err != nil {
				return err
			}

			store := aggregates.NewGraphStore()
			registry := projections.NewViewRegistry(store, cli.NewTerminalRenderer(os.Stdout), logger)
			defer registry.Close()

			nodes, edges := services.EntitiesFromTree(rec, time.Now())
			result := store.Restore(nodes, edges)
			fmt.Printf("%d nodes, %d edges, last saved %s\n", result.Nodes, result.Edges, rec.UpdatedAt.Local().Format(time.RFC1123))
			if skipped := len(result.SkippedNodes) + len(result.SkippedEdges); skipped > 0 {
				fmt.Printf("%d invalid entries skipped\n", skipped)
			}
			if cmd.Flags().Changed("zoom") || cmd.Flags().Changed("pan-x") || cmd.Flags().Changed("pan-y") {
				rect, ids := viewWindow(store, zoom, panX, panY)
				fmt.Printf("view %.0f,%.0f %.0fx%.0f shows %d of %d nodes\n", rect.X, rect.Y, rect.Width, rect.Height, len(ids), store.Len())
				for _, id := range ids {
					if n, ok := store.FindNode(id); ok {
						fmt.Printf("  %s  %s\n", id, n.Title)
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&zoom, "zoom", 1, "zoom factor around the graph center when listing the visible window")
	cmd.Flags().Float64Var(&panX, "pan-x", 0, "horizontal drag in screen pixels applied after zooming")
	cmd.Flags().Float64Var(&panY, "pan-y", 0, "vertical drag in screen pixels applied after zooming")
	return cmd
}

// viewWindow frames the nominal viewport on the graph center, zooms about
// the middle of the screen, applies the drag and returns the covered
// world rectangle with the nodes inside it
func viewWindow(store *aggregates.GraphStore, zoom, panX, panY float64) (valueobjects.Rect, []valueobjects.NodeID) {
	space := viewport.NewCoordinateSpace()
	space.CenterOn(graphCenter(store), viewWidth, viewHeight)
	space.ZoomAt(valueobjects.Point{X: viewWidth / 2, Y: viewHeight / 2}, zoom)
	space.Pan(panX, panY)
	rect := space.VisibleRect(viewWidth, viewHeight)
	return rect, store.NodesInRect(rect)
}
