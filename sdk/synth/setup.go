package synth

import (
	"context"
	"fmt"

	"github.com/leandrodaf/sfworklet/internal/worklet"
	"github.com/leandrodaf/sfworklet/sdk/contracts"
	"go.uber.org/multierr"
)

// Session is a bootstrapped synth: a render context hosting the coordinator
// and the node that controls it.
type Session struct {
	Context contracts.RenderContext
	Node    *Node

	coordinator *worklet.Coordinator
}

// Dropped reports events discarded on either side because the engine was not
// ready.
func (s *Session) Dropped() uint64 {
	return s.Node.Dropped() + s.coordinator.Dropped()
}

// Pause suspends the render clock. Note and program events sent while paused
// are dropped, as they are before Ready.
func (s *Session) Pause() error {
	if err := s.Context.Suspend(); err != nil {
		return fmt.Errorf("suspend render context: %w", err)
	}
	s.Node.setPaused(true)
	return nil
}

// Resume restarts the render clock and lets events through again.
func (s *Session) Resume() error {
	if err := s.Context.Resume(); err != nil {
		return fmt.Errorf("resume render context: %w", err)
	}
	s.Node.setPaused(false)
	return nil
}

// Paused reports whether Pause is in effect.
func (s *Session) Paused() bool {
	return s.Node.Paused()
}

// Close tears down the render context, which in turn closes the coordinator
// and its engine.
func (s *Session) Close() error {
	return s.Context.Close()
}

// Setup fetches the module, opens a render context, registers the coordinator,
// fetches the bank and starts the handshake. It returns once the bank has been
// handed over, or once the session is Ready when WithWaitReady is set.
func Setup(ctx context.Context, module, bank contracts.Source, opts ...contracts.SessionOption) (*Session, error) {
	options, err := applyDefaultOptions(opts...)
	if err != nil {
		return nil, err
	}
	log := options.Logger

	moduleBytes, err := module.Fetch(ctx)
	if err != nil {
		return nil, &contracts.ResourceFetchError{Resource: "module", Err: err}
	}
	log.Debug("Module fetched", log.Field().Int("bytes", len(moduleBytes)))

	rc, err := options.ContextFactory(contracts.RenderConfig{
		SampleRate:   options.SampleRate,
		ChannelCount: options.ChannelCount,
		BlockSize:    options.BlockSize,
		Logger:       log,
	})
	if err != nil {
		return nil, &contracts.ContextEstablishError{Name: options.ProcessorName, Err: err}
	}

	coordinator := worklet.NewCoordinator(options.Compiler, log, options.MailboxSize, options.StatusBuffer)
	if err := rc.Register(options.ProcessorName, coordinator); err != nil {
		return nil, multierr.Combine(
			&contracts.ContextEstablishError{Name: options.ProcessorName, Err: err},
			coordinator.Close(),
			rc.Close(),
		)
	}

	session := &Session{
		Context:     rc,
		Node:        NewNode(rc, coordinator.Port(), options),
		coordinator: coordinator,
	}

	bankBytes, err := bank.Fetch(ctx)
	if err != nil {
		return nil, multierr.Append(&contracts.ResourceFetchError{Resource: "bank", Err: err}, session.Close())
	}
	log.Debug("Bank fetched", log.Field().Int("bytes", len(bankBytes)))

	if err := session.Node.Initialize(moduleBytes, bankBytes); err != nil {
		return nil, multierr.Append(err, session.Close())
	}

	if options.WaitReady {
		if err := session.Node.WaitReady(ctx); err != nil {
			return nil, multierr.Append(err, session.Close())
		}
	}

	log.Info("Synth session established",
		log.Field().String("processor", options.ProcessorName),
		log.Field().Int("sampleRate", rc.SampleRate()))
	return session, nil
}
