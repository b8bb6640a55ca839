// Package main fits a similarity or a fundamental matrix to every correspondence in a JSON
// file and prints the model.
package main

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/robustgeom/geometry"
	"go.viam.com/robustgeom/logging"
	"go.viam.com/robustgeom/multiview/fundamental"
	"go.viam.com/robustgeom/numeric"
)

const (
	flagModel  = "model"
	flagSolver = "solver"
	flagRefine = "refine"
	flagDebug  = "debug"
	flagFormat = "format"

	modelRTS         = "rts"
	modelFundamental = "fundamental"

	solverSeven = "seven"
	solverEight = "eight"

	formatJSON  = "json"
	formatTable = "table"
)

// correspondences is the input file layout. Points are [x, y] for fundamental matrices and
// [x, y, z] for similarities.
type correspondences struct {
	X1 [][]float64 `json:"x1"`
	X2 [][]float64 `json:"x2"`
}

type rtsOutput struct {
	Scale       float64     `json:"scale"`
	Rotation    [][]float64 `json:"rotation"`
	Translation [3]float64  `json:"translation"`
	Matrix      [][]float64 `json:"matrix"`
	RMS         float64     `json:"rms"`

	sim geometry.Similarity
}

func (out rtsOutput) String() string {
	return fmt.Sprintf("%s\nrms: %.6g", out.sim, out.RMS)
}

type fundamentalOutput struct {
	Candidates [][][]float64 `json:"candidates"`
	Degenerate bool          `json:"degenerate,omitempty"`
}

func (out fundamentalOutput) String() string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "F"})
	for i, f := range out.Candidates {
		for r, row := range f {
			idx := ""
			if r == 0 {
				idx = fmt.Sprintf("%d", i+1)
			}
			t.AppendRow(table.Row{idx, fmt.Sprintf("% .6e % .6e % .6e", row[0], row[1], row[2])})
		}
		t.AppendSeparator()
	}
	if out.Degenerate {
		t.SetCaption("degenerate configuration, candidates are unreliable")
	}
	return t.Render()
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	var logger logging.Logger
	return &cli.App{
		Name:      "fitmodel",
		Usage:     "fit a geometric model to point correspondences",
		ArgsUsage: "<correspondences.json>...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  flagModel,
				Value: modelRTS,
				Usage: "model to fit: rts or fundamental",
			},
			&cli.StringFlag{
				Name:  flagSolver,
				Value: solverEight,
				Usage: "fundamental matrix solver: seven or eight",
			},
			&cli.BoolFlag{
				Name:  flagRefine,
				Usage: "refine the similarity with nonlinear least squares",
			},
			&cli.StringFlag{
				Name:  flagFormat,
				Value: formatJSON,
				Usage: "output format: json or table",
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			// stdout carries the model
			logger = logging.NewBlankLogger("fitmodel")
			logger.AddAppender(logging.NewWriterAppender(zapcore.Lock(os.Stderr)))
			if !c.Bool(flagDebug) {
				logger.SetLevel(logging.INFO)
			}
			return nil
		},
		After: func(c *cli.Context) error {
			if logger == nil {
				return nil
			}
			// stderr cannot always be synced
			//nolint:errcheck
			logger.Sync()
			return nil
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return errors.New("expected at least one correspondence file")
			}
			format := c.String(flagFormat)
			if format != formatJSON && format != formatTable {
				return errors.Errorf("unknown format %q", format)
			}

			// files are fitted concurrently but printed in argument order
			results := make([]fmt.Stringer, c.NArg())
			g, _ := errgroup.WithContext(c.Context)
			for i, path := range c.Args().Slice() {
				g.Go(func() error {
					in, err := readCorrespondences(path)
					if err != nil {
						return err
					}
					switch c.String(flagModel) {
					case modelRTS:
						results[i], err = fitRTS(in, c.Bool(flagRefine), logger)
					case modelFundamental:
						results[i], err = fitFundamental(in, c.String(flagSolver), logger)
					default:
						return errors.Errorf("unknown model %q", c.String(flagModel))
					}
					return errors.Wrap(err, path)
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			enc := json.NewEncoder(c.App.Writer)
			enc.SetIndent("", "  ")
			for _, res := range results {
				if format == formatTable {
					if _, err := fmt.Fprintln(c.App.Writer, res.String()); err != nil {
						return err
					}
					continue
				}
				if err := enc.Encode(res); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func readCorrespondences(path string) (correspondences, error) {
	var in correspondences
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return in, errors.Wrapf(err, "cannot read %q", path)
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return in, errors.Wrapf(err, "cannot parse %q", path)
	}
	if len(in.X1) == 0 || len(in.X2) == 0 {
		return in, errors.Errorf("%q holds no correspondences", path)
	}
	return in, nil
}

func toR3(pts [][]float64) ([]r3.Vector, error) {
	out := make([]r3.Vector, 0, len(pts))
	for i, p := range pts {
		if len(p) != 3 {
			return nil, errors.Errorf("point %d has %d coordinates, expected 3", i, len(p))
		}
		out = append(out, r3.Vector{X: p[0], Y: p[1], Z: p[2]})
	}
	return out, nil
}

func toR2(pts [][]float64) ([]r2.Point, error) {
	out := make([]r2.Point, 0, len(pts))
	for i, p := range pts {
		if len(p) != 2 {
			return nil, errors.Errorf("point %d has %d coordinates, expected 2", i, len(p))
		}
		out = append(out, r2.Point{X: p[0], Y: p[1]})
	}
	return out, nil
}

func rows(m mat.Matrix) [][]float64 {
	r, c := m.Dims()
	out := make([][]float64, r)
	for i := range out {
		out[i] = make([]float64, c)
		for j := range out[i] {
			out[i][j] = m.At(i, j)
		}
	}
	return out
}

func fitRTS(in correspondences, refine bool, logger logging.Logger) (rtsOutput, error) {
	p1, err := toR3(in.X1)
	if err != nil {
		return rtsOutput{}, errors.Wrap(err, "x1")
	}
	p2, err := toR3(in.X2)
	if err != nil {
		return rtsOutput{}, errors.Wrap(err, "x2")
	}
	x1, x2 := numeric.PointsFromR3(p1), numeric.PointsFromR3(p2)
	sim, err := geometry.FindRTS(x1, x2)
	if err != nil {
		return rtsOutput{}, err
	}
	if refine {
		cfg := geometry.DefaultRefineConfig()
		cfg.Logger = logger
		if sim, err = geometry.RefineRTS(x1, x2, sim, cfg); err != nil {
			return rtsOutput{}, err
		}
	}

	var sum float64
	for i := range p1 {
		sum += sim.Apply(p1[i]).Sub(p2[i]).Norm2()
	}
	rms := 0.0
	if len(p1) > 0 {
		rms = math.Sqrt(sum / float64(len(p1)))
	}
	logger.Infow("fitted similarity", "points", len(p1), "scale", sim.Scale, "rms", rms)
	return rtsOutput{
		Scale:       sim.Scale,
		Rotation:    rows(sim.Rotation),
		Translation: [3]float64{sim.Translation.X, sim.Translation.Y, sim.Translation.Z},
		Matrix:      rows(geometry.ComposeRTS(sim)),
		RMS:         rms,
		sim:         sim,
	}, nil
}

func fitFundamental(in correspondences, solver string, logger logging.Logger) (fundamentalOutput, error) {
	p1, err := toR2(in.X1)
	if err != nil {
		return fundamentalOutput{}, errors.Wrap(err, "x1")
	}
	p2, err := toR2(in.X2)
	if err != nil {
		return fundamentalOutput{}, errors.Wrap(err, "x2")
	}
	x1, x2 := numeric.PointsFromR2(p1), numeric.PointsFromR2(p2)

	var fs []*mat.Dense
	switch solver {
	case solverSeven:
		fs, err = fundamental.SevenPoint(x1, x2)
	case solverEight:
		fs, err = fundamental.EightPoint(x1, x2, nil)
	default:
		return fundamentalOutput{}, errors.Errorf("unknown solver %q", solver)
	}
	out := fundamentalOutput{}
	if errors.Is(err, fundamental.ErrDegenerateNullSpace) {
		logger.Warnw("degenerate configuration, candidates are unreliable", "points", len(p1))
		out.Degenerate = true
	} else if err != nil {
		return fundamentalOutput{}, err
	}
	for _, f := range fs {
		out.Candidates = append(out.Candidates, rows(f))
	}
	logger.Infow("fitted fundamental matrix", "points", len(p1), "solver", solver, "candidates", len(fs))
	return out, nil
}
