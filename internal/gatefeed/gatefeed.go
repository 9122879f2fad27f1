// Package gatefeed polls the upstream turnstile controller and feeds every
// new pass into the ingest service.
package gatefeed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"library-occupancy-backend/config"
	"library-occupancy-backend/internal/ingest"
	"library-occupancy-backend/internal/model"
	"library-occupancy-backend/internal/parse"
)

const passTimeLayout = "2006-01-02 15:04:05"

// Recorder accepts turnstile passes.
type Recorder interface {
	RecordScan(ctx context.Context, in ingest.ScanInput) (*model.EntryExitEvent, error)
}

// Service pulls passes newer than the last one it has recorded.
type Service struct {
	cfg    config.GateFeedConfig
	rec    Recorder
	client *http.Client
	loc    *time.Location
	logger *log.Logger

	mu     sync.Mutex
	lastID int64
}

// NewService creates a gate feed poller. It fails on an unknown timezone.
func NewService(cfg config.GateFeedConfig, rec Recorder, logger *log.Logger) (*Service, error) {
	if logger == nil {
		logger = log.Default()
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", cfg.Timezone, err)
	}

	var transport http.RoundTripper = &http.Transport{}
	if cfg.HTTPProxy != "" {
		proxyURL, err := url.Parse(cfg.HTTPProxy)
		if err != nil {
			logger.Printf("gatefeed: invalid proxy URL %q: %v; not using a proxy", cfg.HTTPProxy, err)
		} else {
			transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		}
	}

	return &Service{
		cfg:    cfg,
		rec:    rec,
		client: &http.Client{Transport: transport, Timeout: 30 * time.Second},
		loc:    loc,
		logger: logger,
	}, nil
}

// LastID returns the id of the newest pass handled so far.
func (s *Service) LastID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastID
}

// Run polls until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		s.logger.Println("gatefeed: disabled, not starting")
		return
	}
	s.logger.Println("gatefeed: starting")

	s.poll(ctx)

	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Println("gatefeed: shutting down")
			return
		case <-timer.C:
			s.poll(ctx)
			timer.Reset(s.cfg.Interval)
		}
	}
}

func (s *Service) poll(ctx context.Context) {
	n, err := s.PollOnce(ctx)
	if err != nil {
		s.logger.Printf("gatefeed: %v", err)
	}
	if n > 0 {
		s.logger.Printf("gatefeed: recorded %d passes", n)
	}
}

// PollOnce fetches every page of passes newer than the cursor and records
// them in id order. It returns how many passes were recorded.
func (s *Service) PollOnce(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var passes []Pass
	total := 1
	pageSize := s.cfg.Request.PageSize
	var fetchErr error
	for page := 1; (page-1)*pageSize < total; page++ {
		resp, err := s.fetchPage(ctx, page)
		if err != nil {
			fetchErr = fmt.Errorf("fetch page %d: %w", page, err)
			break
		}
		if resp.Data.Total == 0 || len(resp.Data.Items) == 0 {
			break
		}
		total = resp.Data.Total
		passes = append(passes, resp.Data.Items...)
	}
	if fetchErr != nil && len(passes) == 0 {
		return 0, fetchErr
	}

	sort.Slice(passes, func(i, j int) bool { return passes[i].ID < passes[j].ID })

	recorded := 0
	for _, p := range passes {
		if p.ID <= s.lastID {
			continue
		}
		in, err := s.scanInput(p)
		if err != nil {
			s.logger.Printf("gatefeed: skipping pass %d: %v", p.ID, err)
			s.lastID = p.ID
			continue
		}
		if _, err := s.rec.RecordScan(ctx, in); err != nil {
			if errors.Is(err, ingest.ErrInvalidInput) {
				s.logger.Printf("gatefeed: skipping pass %d: %v", p.ID, err)
				s.lastID = p.ID
				continue
			}
			// Leave the cursor here so the pass is retried next cycle.
			return recorded, fmt.Errorf("record pass %d: %w", p.ID, err)
		}
		s.lastID = p.ID
		recorded++
	}
	return recorded, fetchErr
}

func (s *Service) scanInput(p Pass) (ingest.ScanInput, error) {
	gate, err := parse.ParseGate(p.DeviceName)
	if err != nil {
		return ingest.ScanInput{}, err
	}
	in := ingest.ScanInput{
		StudentID: p.StudentID,
		EventType: gate.Direction,
		DeviceID:  p.DeviceID,
		Location:  gate.Location,
	}
	if p.PassTime != "" {
		at, err := time.ParseInLocation(passTimeLayout, p.PassTime, s.loc)
		if err != nil {
			return ingest.ScanInput{}, fmt.Errorf("failed to parse passTime %q: %w", p.PassTime, err)
		}
		in.At = &at
	}
	return in, nil
}

// fetchPage fetches one page of passes from the gate controller.
func (s *Service) fetchPage(ctx context.Context, page int) (*apiResponse, error) {
	payload := make(map[string]any, len(s.cfg.Request.Payload)+3)
	for k, v := range s.cfg.Request.Payload {
		payload[k] = v
	}
	payload["page"] = page
	payload["pageSize"] = s.cfg.Request.PageSize
	payload["afterId"] = s.lastID

	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Request.URL, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range s.cfg.Request.Headers {
		req.Header.Set(key, value)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received non-200 status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal api response: %w", err)
	}
	if apiResp.Code != 0 {
		return nil, fmt.Errorf("gate controller returned non-zero application code: %d", apiResp.Code)
	}
	return &apiResp, nil
}
