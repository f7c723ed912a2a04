package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chaos-io/sam2seg/imaging"
	"github.com/chaos-io/sam2seg/util"
	nhttp "github.com/chaos-io/sam2seg/util/http"
)

func newSegmentCmd(configPath *string) *cobra.Command {
	var in, out string

	cmd := &cobra.Command{
		Use:   "segment",
		Short: "Remove the background of a local or remote image",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			data, err := util.ReadImage(cmd.Context(), nhttp.NewHTTPClient(), in)
			if err != nil {
				return err
			}

			result, err := a.segment(cmd.Context(), data)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, result, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", out, a.loader.Status().ModelStatus())
			return nil
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "input image path or http(s) url")
	cmd.Flags().StringVar(&out, "out", "output.jpg", "output JPEG path")
	_ = cmd.MarkFlagRequired("in")
	return cmd
}

// segment 与 HTTP 接口相同的处理流程
func (a *app) segment(ctx context.Context, data []byte) ([]byte, error) {
	img, err := imaging.Decode(data)
	if err != nil {
		return nil, err
	}

	p := a.loader.EnsureLoaded(ctx)
	result, err := a.engine.Segment(ctx, p, img)
	if err != nil {
		return nil, err
	}

	a.logger.Info("image segmented",
		zap.Int("width", img.Bounds().Dx()),
		zap.Int("height", img.Bounds().Dy()),
		zap.String("model_status", a.loader.Status().ModelStatus()))
	return imaging.EncodeJPEG(result)
}
