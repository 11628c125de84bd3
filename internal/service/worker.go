package service

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/imagecleaner/internal/batch"
	"github.com/local/imagecleaner/internal/metrics"
	"github.com/local/imagecleaner/internal/pipeline"
	"github.com/local/imagecleaner/internal/progress"
	"github.com/local/imagecleaner/internal/store"
)

const dequeueTimeout = 2 * time.Second

func (s *Service) workerLoop() {
	defer close(s.done)
	log.Info().Msg("batch worker started")
	for {
		select {
		case <-s.stop:
			log.Info().Msg("batch worker stopped")
			return
		default:
		}

		msgID, payload, err := s.deps.Queue.Dequeue(context.Background(), "worker", dequeueTimeout)
		if err != nil {
			log.Error().Err(err).Msg("queue dequeue error")
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if payload == nil {
			continue
		}

		var job batch.Job
		if err := json.Unmarshal(payload, &job); err != nil {
			log.Error().Err(err).Msg("dropping undecodable batch job")
			_ = s.deps.Queue.Ack(context.Background(), msgID)
			continue
		}

		if cancelled, _ := s.deps.Queue.IsCancelled(context.Background(), job.ID); cancelled {
			log.Warn().Str("batch", job.ID).Msg("batch cancelled before processing, skipping")
			s.setState(job.ID, "cancelled", 100, "cancelled before processing", nil)
			_ = s.deps.Queue.Ack(context.Background(), msgID)
			continue
		}

		s.runBatch(job)
		_ = s.deps.Queue.Ack(context.Background(), msgID)
	}
}

func (s *Service) runBatch(job batch.Job) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.mu.Lock()
	s.cancels[job.ID] = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.cancels, job.ID)
		s.mu.Unlock()
	}()

	s.setState(job.ID, "processing", 0, "starting", nil)

	hooks := batch.Hooks{
		Progress: func(path string, docIndex, docTotal int, p pipeline.Progress) {
			s.mu.Lock()
			s.tokenBatch[p.Token] = job.ID
			s.mu.Unlock()
			overall := (float64(docIndex) + p.Percent/100) / float64(docTotal) * 100
			msg := fmt.Sprintf("%s: %s", filepath.Base(path), p.Status)
			s.smoother.Set(p.Token, overall, msg, p.Percent >= 100 && docIndex == docTotal-1)
		},
		Outcome: func(o batch.DocOutcome) {
			// honor external cancellation at the next document boundary
			if cancelled, _ := s.deps.Queue.IsCancelled(context.Background(), job.ID); cancelled {
				cancel()
			}
		},
	}

	orch := batch.New(s.deps.Runner, s.deps.Saver, &apiSelector{svc: s, batchID: job.ID}, hooks)
	orch.Validate = s.deps.Validate
	orch.Fetch = s.deps.Fetch

	report := orch.Run(ctx, job)

	state := "completed"
	if ctx.Err() != nil {
		state = "cancelled"
	}
	s.finalizeBatch(job.ID, state, report)
	log.Info().Str("batch", job.ID).Str("state", state).
		Int("cleaned", report.Cleaned).Int("skipped", report.Skipped).Int("failed", report.Failed).
		Msg("batch finished")
}

// finalizeBatch unbinds the batch's run tokens and writes the terminal status
// while holding the service mutex, so a smoother tick that already resolved a
// token cannot land its "processing" write after the terminal one.
func (s *Service) finalizeBatch(batchID, state string, report batch.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for tok, id := range s.tokenBatch {
		if id == batchID {
			delete(s.tokenBatch, tok)
		}
	}
	s.setState(batchID, state, 100, report.String(), reportMap(report))
}

func (s *Service) setState(batchID, state string, percent float64, msg string, report map[string]interface{}) {
	st := store.Status{State: state, Progress: percent, Message: msg, Report: report}
	if state == "completed" || state == "cancelled" {
		now := time.Now()
		st.End = &now
	}
	if err := s.deps.Store.Set(context.Background(), batchID, st); err != nil {
		log.Error().Err(err).Str("batch", batchID).Msg("status store write failed")
	}
}

// publishSmoothed receives eased samples from the smoother and writes them to
// the status store under the owning batch. The mutex is held across the token
// lookup and the store write: once finalizeBatch retires a token, no sample
// for it can reach the store.
func (s *Service) publishSmoothed(u progress.Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batchID, ok := s.tokenBatch[u.Token]
	if !ok {
		return
	}
	st := store.Status{State: "processing", Progress: u.Percent, Message: u.Status}
	if err := s.deps.Store.Set(context.Background(), batchID, st); err != nil {
		log.Error().Err(err).Str("batch", batchID).Msg("status store write failed")
	}
}

func (s *Service) depthLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if n, err := s.deps.Queue.Depth(ctx); err == nil {
				metrics.SetQueueDepth(n)
			}
			cancel()
		}
	}
}

func reportMap(r batch.Report) map[string]interface{} {
	b, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}
	return m
}

// apiSelector implements interactive mode over the API: it parks the batch in
// awaiting_selection and blocks until POST /runs/{id}/selection supplies the
// refs, the batch is cancelled, or the service stops.
type apiSelector struct {
	svc     *Service
	batchID string
}

func (sel *apiSelector) Select(ctx context.Context, path string, res *pipeline.Result) ([]pipeline.ImageRef, error) {
	ch := make(chan []pipeline.ImageRef, 1)
	sel.svc.mu.Lock()
	sel.svc.selections[sel.batchID] = ch
	sel.svc.mu.Unlock()

	sel.svc.setState(sel.batchID, "awaiting_selection", 0,
		fmt.Sprintf("%s: review removal candidates", filepath.Base(path)),
		candidatesMap(res))

	defer func() {
		sel.svc.mu.Lock()
		delete(sel.svc.selections, sel.batchID)
		sel.svc.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-sel.svc.stop:
		return nil, fmt.Errorf("service shutting down")
	case refs, ok := <-ch:
		if !ok {
			return nil, context.Canceled
		}
		sel.svc.setState(sel.batchID, "processing", 0, fmt.Sprintf("%s: applying selection", filepath.Base(path)), nil)
		return refs, nil
	}
}

func candidatesMap(res *pipeline.Result) map[string]interface{} {
	byCategory := map[string][]map[string]interface{}{}
	for cat, list := range res.Candidates {
		for _, c := range list {
			byCategory[cat.String()] = append(byCategory[cat.String()], map[string]interface{}{
				"ref":   int(c.Ref),
				"pages": c.Pages,
			})
		}
	}
	return map[string]interface{}{"candidates": byCategory}
}
