package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"runthru/internal/domain"
	"runthru/internal/events"
	"runthru/internal/logging"
)

type runOptions struct {
	description string
	engine      string
	quality     string
	format      string
	voice       string
	headed      bool
	noNarration bool
	file        string
}

func newRunCommand(c *cli) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run <url> [instruction...]",
		Short: "Record one walkthrough and wait for the video",
		Long: `Record one walkthrough in the foreground. Instructions come from the
arguments, from --file (one per line), or are generated from --description
when neither is given. Ctrl-C stops the recording.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			instructions := args[1:]
			if opts.file != "" {
				lines, err := readInstructionFile(opts.file)
				if err != nil {
					return err
				}
				instructions = append(instructions, lines...)
			}
			return c.run(cmd.Context(), cmd.OutOrStdout(), args[0], instructions, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.description, "description", "", "what the demo shows; used for narration and step generation")
	f.StringVar(&opts.engine, "engine", "", "chromium, chrome, edge or remote")
	f.StringVar(&opts.quality, "quality", "", "low, medium or high")
	f.StringVar(&opts.format, "format", "", "mp4 or webm")
	f.StringVar(&opts.voice, "voice", "", "narration voice")
	f.BoolVar(&opts.headed, "headed", false, "show the browser window")
	f.BoolVar(&opts.noNarration, "no-narration", false, "skip narration and keep the raw capture")
	f.StringVarP(&opts.file, "file", "f", "", "read instructions from a file, one per line")
	return cmd
}

func readInstructionFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read instructions: %w", err)
	}
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "#") {
			out = append(out, line)
		}
	}
	return out, nil
}

func (c *cli) run(parent context.Context, out io.Writer, targetURL string, instructions []string, opts runOptions) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	if cfg.Logging.File == "" {
		// Progress owns stdout.
		logging.SetOutput(os.Stderr)
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = a.close(context.Background())
		_ = logging.Close()
	}()

	headless := !opts.headed
	req := domain.CreateRequest{
		Description:  opts.description,
		TargetURL:    targetURL,
		Instructions: instructions,
		Browser: domain.BrowserConfig{
			Engine:   domain.Engine(opts.engine),
			Headless: &headless,
			Quality:  domain.Quality(opts.quality),
		},
		Narration:   domain.NarrationConfig{Disabled: opts.noNarration, Voice: opts.voice},
		Composition: domain.CompositionConfig{Format: opts.format},
	}
	rec, err := a.service.Create(context.Background(), req)
	if err != nil {
		return err
	}
	p := newPrinter(out)
	p.created(rec)

	ch, cancel := a.service.Events().Subscribe(rec.ID)
	defer cancel()
	if _, err := a.service.Start(context.Background(), rec.ID); err != nil {
		return err
	}

	interrupted := ctx.Done()
	for {
		select {
		case e, open := <-ch:
			if !open {
				return errors.New("event stream closed")
			}
			p.event(e)
			if !e.Terminal() {
				continue
			}
			final, err := a.service.Wait(context.Background(), rec.ID)
			if err != nil {
				return err
			}
			p.summary(final)
			if final.Status != domain.StatusCompleted {
				return fmt.Errorf("recording %s failed: %s", final.ID, final.CurrentStep)
			}
			return nil
		case <-interrupted:
			interrupted = nil
			p.warn("Stopping after the current step...")
			if _, err := a.service.Stop(context.Background(), rec.ID); err != nil && !errors.Is(err, domain.ErrConflict) {
				return err
			}
		}
	}
}

// printer renders progress events for a terminal.
type printer struct {
	out      io.Writer
	dim      *color.Color
	ok       *color.Color
	bad      *color.Color
	accent   *color.Color
	lastLine string
}

func newPrinter(out io.Writer) *printer {
	return &printer{
		out:    out,
		dim:    color.New(color.FgHiBlack),
		ok:     color.New(color.FgGreen),
		bad:    color.New(color.FgRed),
		accent: color.New(color.FgCyan, color.Bold),
	}
}

func (p *printer) created(rec *domain.Recording) {
	p.accent.Fprintf(p.out, "Recording %s", rec.ID)
	p.dim.Fprintf(p.out, " (%d instructions, %s)\n", len(rec.Instructions), rec.TargetURL)
}

func (p *printer) event(e events.Event) {
	switch e.Type {
	case events.TypeStep:
		if e.Step == nil {
			return
		}
		mark, c := "✓", p.ok
		if !e.Step.Success {
			mark, c = "✗", p.bad
		}
		c.Fprintf(p.out, "  %s ", mark)
		fmt.Fprintf(p.out, "%d. %s", e.Step.Sequence, e.Step.Instruction)
		p.dim.Fprintf(p.out, " [%s]", e.Step.Action)
		if e.Step.Error != "" {
			p.bad.Fprintf(p.out, " %s", e.Step.Error)
		}
		fmt.Fprintln(p.out)
	default:
		line := fmt.Sprintf("[%3d%%] %s", e.Progress, e.CurrentStep)
		if line == p.lastLine || e.CurrentStep == "" {
			return
		}
		p.lastLine = line
		p.dim.Fprintln(p.out, line)
	}
}

func (p *printer) warn(msg string) {
	color.New(color.FgYellow).Fprintln(p.out, msg)
}

func (p *printer) summary(rec *domain.Recording) {
	var passed int
	for _, s := range rec.Steps {
		if s.Success {
			passed++
		}
	}
	if rec.Status == domain.StatusCompleted {
		p.ok.Fprintf(p.out, "Completed: %d/%d steps succeeded\n", passed, len(rec.Steps))
	} else {
		p.bad.Fprintf(p.out, "Failed: %s\n", rec.CurrentStep)
	}
	if v := rec.AuthoritativeVideo(); v != "" {
		fmt.Fprintf(p.out, "Video: %s\n", v)
	}
	if rec.ShareURL != "" {
		fmt.Fprintf(p.out, "Share: %s\n", rec.ShareURL)
	}
}
