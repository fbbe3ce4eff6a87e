package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tsukuba-hpcs/mpich-chfs/pkg/bsend"
	"github.com/tsukuba-hpcs/mpich-chfs/pkg/pack"
	"github.com/tsukuba-hpcs/mpich-chfs/pkg/transport/memory"
	"github.com/tsukuba-hpcs/mpich-chfs/pkg/xerrors"
)

type runOpts struct {
	bufferSize  int
	senders     int
	perSender   int
	messageSize int
	latency     int
}

func runCmd() *cobra.Command {
	opts := runOpts{
		bufferSize:  1 << 20,
		senders:     8,
		perSender:   100,
		messageSize: 256,
		latency:     2,
	}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Attach a buffer and submit concurrent sends through an in-process transport",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&opts.bufferSize, "buffer-size", opts.bufferSize, "bytes attached to the process-wide buffer")
	flags.IntVar(&opts.senders, "senders", opts.senders, "number of concurrent goroutines calling Submit")
	flags.IntVar(&opts.perSender, "per-sender", opts.perSender, "messages submitted by each goroutine")
	flags.IntVar(&opts.messageSize, "message-size", opts.messageSize, "bytes per message")
	flags.IntVar(&opts.latency, "latency", opts.latency, "Progress calls before the transport completes a send")

	return cmd
}

func run(ctx context.Context, opts runOpts) error {
	log, err := newLogger()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	binder := bsend.NewBinder()
	if err := binder.AttachProcess(make([]byte, opts.bufferSize)); err != nil {
		return fmt.Errorf("attach: %w", err)
	}

	tr, delivered := memory.New(opts.latency)

	drainCtx, cancelDrain := context.WithCancel(ctx)
	defer cancelDrain()

	var drained int
	drainDone := make(chan struct{})
	go func() {
		defer close(drainDone)
		for {
			select {
			case <-drainCtx.Done():
				return
			case <-delivered:
				drained++
			}
		}
	}()

	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		for {
			select {
			case <-drainCtx.Done():
				return
			default:
				_ = tr.Progress(ctx)
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	total := opts.senders * opts.perSender

	for s := 0; s < opts.senders; s++ {
		s := s
		g.Go(func() error {
			payload := make([]byte, opts.messageSize)
			for i := 0; i < opts.perSender; i++ {
				_, err := bsend.Submit(gctx, binder, 0, 0, tr, s, i, pack.Bytes(payload))
				if err != nil {
					return fmt.Errorf("sender %d, message %d: %w", s, i, err)
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if sendErr, ok := xerrors.AsA[*bsend.SendError](err); ok {
			log.Warn("a submit ran out of buffer space",
				zap.Int("requested", sendErr.Requested),
				zap.Int("available", sendErr.Available))
		}
		return err
	}

	log.Info("submitted all messages", zap.Int("total", total))

	for binder.ProcessArena().ActiveCount() > 0 {
		if err := bsend.Reclaim(ctx, binder.ProcessArena(), tr); err != nil {
			return fmt.Errorf("reclaim: %w", err)
		}
		time.Sleep(time.Millisecond)
	}

	cancelDrain()
	<-drainDone
	<-progressDone

	log.Info("drained", zap.Int("delivered", drained))

	_, _, err = binder.DetachProcess(ctx)
	if err != nil {
		return fmt.Errorf("detach: %w", err)
	}

	return nil
}
