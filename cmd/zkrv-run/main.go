// Command zkrv-run is the development driver for the execution phase:
// it assembles guest programs and runs word-image files through the
// executor, printing segment and exit information.
package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/basso-zkrv/zkrv-exec/pkg/asm"
	"github.com/basso-zkrv/zkrv-exec/pkg/executor"
	"github.com/basso-zkrv/zkrv-exec/pkg/memory"
)

func main() {
	log.SetFlags(0)
	root := &cobra.Command{
		Use:           "zkrv-run",
		Short:         "run RISC-V guest images through the zkVM execution phase",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(runCommand(), asmCommand())
	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func runCommand() *cobra.Command {
	var (
		imagePath    string
		segmentPo2   uint32
		sessionLimit uint64
		inputPath    string
		tracePath    string
		resume       bool
		verbose      bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "execute a word-image file and report its segments",
		Example: `  zkrv-run asm -f guest.s -o guest.img
  zkrv-run run -f guest.img --segment-po2 16`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if imagePath == "" {
				return fmt.Errorf("missing -f <image-file>")
			}
			builder := executor.NewEnvBuilder().
				SegmentLimitPo2(segmentPo2).
				WriteFd(executor.FdStdout, os.Stdout).
				WriteFd(executor.FdStderr, os.Stderr)
			if sessionLimit > 0 {
				builder.SessionLimit(sessionLimit)
			}
			if verbose {
				builder.Logger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
					Level: slog.LevelDebug,
				})))
			}
			if inputPath != "" {
				data, err := os.ReadFile(inputPath)
				if err != nil {
					return err
				}
				builder.AddInput(data)
			}
			var traceFile *os.File
			if tracePath != "" {
				var err error
				traceFile, err = os.Create(tracePath)
				if err != nil {
					return err
				}
				defer traceFile.Close()
				builder.TraceCallback(func(event memory.TraceEvent) error {
					_, err := fmt.Fprintln(traceFile, event)
					return err
				})
			}
			env, err := builder.Build()
			if err != nil {
				return err
			}

			fp, err := os.Open(imagePath)
			if err != nil {
				return err
			}
			defer fp.Close()
			exec, err := executor.FromWordImage(env, fp)
			if err != nil {
				return err
			}

			for {
				session, err := exec.Run()
				if err != nil {
					return err
				}
				fmt.Printf("exit: %s, segments: %d, journal: %d bytes\n",
					session.ExitCode, len(session.Segments), len(session.Journal))
				if len(session.Journal) > 0 {
					fmt.Printf("journal: %q\n", session.Journal)
				}
				if session.ExitCode.Kind != executor.KindPaused || !resume {
					return nil
				}
			}
		},
	}
	cmd.Flags().StringVarP(&imagePath, "file", "f", "", "word-image file to run")
	cmd.Flags().Uint32Var(&segmentPo2, "segment-po2", executor.DefaultSegmentLimitPo2, "segment size exponent: each segment holds at most 2^po2 cycles")
	cmd.Flags().Uint64Var(&sessionLimit, "session-limit", 0, "total session cycle budget (0 = unlimited)")
	cmd.Flags().StringVar(&inputPath, "input", "", "file whose bytes feed the guest input stream")
	cmd.Flags().StringVar(&tracePath, "trace", "", "write per-instruction trace events to this file")
	cmd.Flags().BoolVar(&resume, "resume", false, "automatically resume when the guest pauses")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	return cmd
}

func asmCommand() *cobra.Command {
	var (
		sourcePath string
		outPath    string
	)
	cmd := &cobra.Command{
		Use:   "asm",
		Short: "assemble an RV32IM source file into a word image",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sourcePath == "" {
				return fmt.Errorf("missing -f <source-file>")
			}
			fp, err := os.Open(sourcePath)
			if err != nil {
				return err
			}
			defer fp.Close()
			out := os.Stdout
			if outPath != "" {
				out, err = os.Create(outPath)
				if err != nil {
					return err
				}
				defer out.Close()
			}
			for ioe := range asm.StartAssembler(fp) {
				encoded, err := ioe.Encode()
				if err != nil {
					return err
				}
				if _, err := fmt.Fprint(out, encoded); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&sourcePath, "file", "f", "", "assembly source file")
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "output image file (default stdout)")
	return cmd
}
