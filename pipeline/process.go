package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cobalt/capture"
	"cobalt/log"
	"cobalt/transcode"
	"cobalt/transcriber"
)

type transcription struct {
	text     string
	backend  string
	timedOut bool
	fellBack bool
	result   transcriber.Result
	err      error
}

type transcoding struct {
	artifact *transcode.Artifact
	err      error
}

// process is the stop pipeline. It always ends in Idle or Stopped.
func (o *Orchestrator) process(sess Capture) {
	rec, err := sess.Stop()
	if err != nil {
		o.logger.Error().Err(err).Msg("capture stop failed")
		sess.Cancel()
		o.finishIdle(err)
		return
	}
	if rec == nil {
		o.logger.Info().Msg("nothing captured")
		o.finishIdle(nil)
		return
	}

	tr, tc := o.runStages(rec)

	if o.cfg.Remote != nil {
		if err := o.cfg.Remote.Close(); err != nil {
			o.logger.Warn().Err(err).Msg("close remote")
		}
	}

	log.Transcription(log.TranscriptionMetrics{
		Backend:    tr.backend,
		AudioS:     rec.Duration.Seconds(),
		RawKB:      float64(rec.PayloadBytes) / 1024,
		ElapsedMs:  float64(tr.result.Elapsed.Microseconds()) / 1000,
		Partials:   tr.result.Partials,
		HasText:    tr.result.HasText,
		TimedOut:   tr.timedOut,
		FellBack:   tr.fellBack,
		TextLength: len(tr.text),
	})

	snap := Snapshot{
		Transcript: tr.text,
		Duration:   rec.Duration,
		Backend:    tr.backend,
		TimedOut:   tr.timedOut,
	}
	keepSession := false
	if tc.err == nil {
		snap.AudioPath = tc.artifact.Path
		sess.Cancel() // removes the raw container
	} else {
		o.logger.Error().Err(tc.err).Str("raw", rec.Path).Msg("transcode failed")
		snap.Err = tc.err
		if o.cfg.DropRawOnTranscodeFailure {
			sess.Cancel()
		} else {
			snap.AudioPath = rec.Path
			snap.RawPath = rec.Path
			keepSession = true
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	snap.Elapsed = o.snap.Elapsed
	o.snap = snap
	if keepSession {
		o.sess = sess
	} else {
		o.sess = nil
	}
	if tc.err != nil {
		o.publishLocked(Event{Type: Error, Err: tc.err})
	}
	o.setStateLocked(Stopped)
}

// runStages transcribes and transcodes the recording concurrently. Both only
// read rec.Path; the caller removes it after both have returned.
func (o *Orchestrator) runStages(rec *capture.Take) (transcription, transcoding) {
	var wg sync.WaitGroup
	var tr transcription
	var tc transcoding

	wg.Add(2)
	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error().Interface("panic", r).Msg("transcription panicked")
				tr = transcription{text: FailedText, err: fmt.Errorf("transcription panic: %v", r)}
			}
		}()
		tr = o.transcribe(rec.Path)
	}()
	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error().Interface("panic", r).Msg("transcode panicked")
				tc = transcoding{err: fmt.Errorf("%w: panic: %v", transcode.ErrTranscode, r)}
			}
		}()
		if o.cfg.Transcoder == nil {
			tc.err = fmt.Errorf("%w: no transcoder", transcode.ErrTranscode)
			return
		}
		tc.artifact, tc.err = o.cfg.Transcoder.Transcode(o.ctx, rec.Path)
	}()
	wg.Wait()
	return tr, tc
}

func (o *Orchestrator) backend() (transcriber.Backend, bool) {
	if o.cfg.Remote != nil && o.cfg.Policy.UseRemote() {
		return o.cfg.Remote, false
	}
	if o.cfg.Local != nil {
		return o.cfg.Local, o.cfg.Policy.PreferRemote != nil && o.cfg.Policy.PreferRemote()
	}
	return nil, false
}

// transcribe never fails: errors, empty results and timeouts become
// placeholder text.
func (o *Orchestrator) transcribe(path string) transcription {
	b, fellBack := o.backend()
	if b == nil {
		return transcription{text: FailedText, err: errors.New("pipeline: no transcription backend")}
	}
	tr := transcription{backend: b.Name(), fellBack: fellBack}

	ctx, cancel := context.WithTimeout(o.ctx, o.cfg.Timeout)
	defer cancel()

	type outcome struct {
		res transcriber.Result
		err error
	}
	out := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				out <- outcome{err: fmt.Errorf("%s backend panic: %v", b.Name(), r)}
			}
		}()
		res, err := b.Transcribe(ctx, path)
		out <- outcome{res, err}
	}()

	select {
	case r := <-out:
		tr.result, tr.err = r.res, r.err
	case <-ctx.Done():
		// A backend that ignores ctx is left to finish on its own.
		select {
		case r := <-out:
			tr.result, tr.err = r.res, r.err
		case <-time.After(time.Second):
			tr.err = ctx.Err()
		}
	}

	switch {
	case tr.err == nil && tr.result.HasText:
		tr.text = tr.result.Text
	case errors.Is(tr.err, context.DeadlineExceeded) && o.ctx.Err() == nil:
		tr.timedOut = true
		tr.text = TimeoutText
		o.logger.Warn().Str("backend", tr.backend).Dur("timeout", o.cfg.Timeout).Msg("transcription timed out")
	case tr.err != nil:
		tr.text = FailedText
		o.logger.Error().Err(tr.err).Str("backend", tr.backend).Msg("transcription failed")
	default:
		tr.text = FailedText
		o.logger.Info().Str("backend", tr.backend).Msg("no transcription")
	}
	return tr
}

func (o *Orchestrator) finishIdle(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sess = nil
	o.snap = Snapshot{}
	if err != nil {
		o.publishLocked(Event{Type: Error, Err: err})
	}
	o.setStateLocked(Idle)
}
