// Copyright (c) 2026 Shipmecarton
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package poller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shipmecarton/mailroom/internal/gmail"
	"github.com/shipmecarton/mailroom/internal/models"
	"github.com/shipmecarton/mailroom/internal/pipeline"
)

type fakeMailbox struct {
	current   uint64
	refs      []models.MessageRef
	listErr   error
	getErrIDs map[string]bool
}

func (f *fakeMailbox) CurrentHistoryID(_ context.Context) (uint64, error) {
	return f.current, nil
}

func (f *fakeMailbox) ListNewSince(_ context.Context, _ uint64) ([]models.MessageRef, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.refs, nil
}

func (f *fakeMailbox) GetMessage(_ context.Context, id string) (*models.InboundMessage, error) {
	if f.getErrIDs[id] {
		return nil, errors.New("fetch failed")
	}
	return &models.InboundMessage{ID: id, From: "jane@example.com", Subject: "s", Body: "b"}, nil
}

type fakeState struct {
	mu     sync.Mutex
	cursor uint64
	sets   []uint64
}

func (f *fakeState) Get(_ context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursor, nil
}

func (f *fakeState) Set(_ context.Context, id uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursor = id
	f.sets = append(f.sets, id)
	return nil
}

type fakeSeen struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (f *fakeSeen) IsNew(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	if f.seen[id] {
		return false, nil
	}
	f.seen[id] = true
	return true, nil
}

type fakeIndex struct {
	existing map[string]bool
}

func (f *fakeIndex) Exists(_ context.Context, id string) (bool, error) {
	return f.existing[id], nil
}

type fakeProcessor struct {
	mu        sync.Mutex
	processed []string
	failIDs   map[string]bool
	failErr   error
	dupIDs    map[string]bool
}

func (f *fakeProcessor) Process(_ context.Context, msg *models.InboundMessage) (string, error) {
	if f.failIDs[msg.ID] {
		if f.failErr != nil {
			return "", f.failErr
		}
		return "", errors.New("classification blew up")
	}
	if f.dupIDs[msg.ID] {
		return "", pipeline.ErrAlreadyProcessed
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = append(f.processed, msg.ID)
	return "RESULT " + msg.ID, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeNotifier) Notify(_ context.Context, text string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, text)
	return true
}

func (f *fakeNotifier) count(substr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.messages {
		if strings.Contains(m, substr) {
			n++
		}
	}
	return n
}

func refs(ids ...uint64) []models.MessageRef {
	out := make([]models.MessageRef, len(ids))
	for i, id := range ids {
		out[i] = models.MessageRef{ID: fmt.Sprintf("m-%d", id), HistoryID: id}
	}
	return out
}

func newPoller(mb *fakeMailbox, st *fakeState, proc *fakeProcessor, notif *fakeNotifier) *Poller {
	return New(mb, st, &fakeSeen{}, &fakeIndex{}, proc, notif, time.Minute)
}

func TestPollFirstRunInitialisesWithoutProcessing(t *testing.T) {
	mb := &fakeMailbox{current: 500, refs: refs(100, 101)}
	st := &fakeState{}
	proc := &fakeProcessor{}
	notif := &fakeNotifier{}

	n, err := newPoller(mb, st, proc, notif).Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if n != 0 {
		t.Errorf("processed %d on first run, want 0", n)
	}
	if st.cursor != 500 {
		t.Errorf("cursor = %d, want current position 500", st.cursor)
	}
	if notif.count("poller started") != 1 {
		t.Errorf("expected one started notification, got %v", notif.messages)
	}
	if len(proc.processed) != 0 {
		t.Errorf("first run must not process backlog: %v", proc.processed)
	}
}

func TestPollAdvancesCursorPastFailedMessage(t *testing.T) {
	mb := &fakeMailbox{refs: refs(101, 102, 103)}
	st := &fakeState{cursor: 100}
	proc := &fakeProcessor{failIDs: map[string]bool{"m-102": true}}
	notif := &fakeNotifier{}

	n, err := newPoller(mb, st, proc, notif).Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if n != 2 {
		t.Errorf("processed = %d, want 2", n)
	}
	// The failed message is reported, and the cursor still reaches the
	// position of the last candidate. It will not be retried by replay.
	if st.cursor != 103 {
		t.Errorf("cursor = %d, want 103", st.cursor)
	}
	if notif.count("processing failed") != 1 {
		t.Errorf("expected one failure alert, got %v", notif.messages)
	}
	if notif.count("New email processed") != 2 {
		t.Errorf("expected two result notifications, got %v", notif.messages)
	}
}

func TestPollSkipsAlreadyRecordedMessages(t *testing.T) {
	mb := &fakeMailbox{refs: refs(101, 102)}
	st := &fakeState{cursor: 100}
	proc := &fakeProcessor{}
	notif := &fakeNotifier{}
	idx := &fakeIndex{existing: map[string]bool{"m-101": true}}

	p := New(mb, st, &fakeSeen{}, idx, proc, notif, time.Minute)
	n, err := p.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if n != 1 || len(proc.processed) != 1 || proc.processed[0] != "m-102" {
		t.Errorf("processed = %v, want only m-102", proc.processed)
	}
	// Skipped messages still advance the cursor.
	if st.cursor != 102 {
		t.Errorf("cursor = %d, want 102", st.cursor)
	}
}

func TestPollSeenFilterBlocksSecondCycle(t *testing.T) {
	mb := &fakeMailbox{refs: refs(101)}
	st := &fakeState{cursor: 100}
	proc := &fakeProcessor{}
	seen := &fakeSeen{}

	p := New(mb, st, seen, &fakeIndex{}, proc, &fakeNotifier{}, time.Minute)
	if _, err := p.Poll(context.Background()); err != nil {
		t.Fatalf("first Poll: %v", err)
	}
	// Same ref offered again, as happens when cycles overlap a history
	// record. The seen filter keeps it from reaching the pipeline twice.
	if _, err := p.Poll(context.Background()); err != nil {
		t.Fatalf("second Poll: %v", err)
	}
	if len(proc.processed) != 1 {
		t.Errorf("processed = %v, want m-101 exactly once", proc.processed)
	}
}

func TestPollExpiredCursorYieldsNothing(t *testing.T) {
	mb := &fakeMailbox{
		current: 900,
		listErr: fmt.Errorf("history list: %w", gmail.ErrCursorExpired),
	}
	st := &fakeState{cursor: 100}
	notif := &fakeNotifier{}

	n, err := newPoller(mb, st, &fakeProcessor{}, notif).Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if n != 0 {
		t.Errorf("processed = %d, want 0", n)
	}
	// No auto-reset: the cursor only rebuilds through the uninitialised
	// path after an explicit clear.
	if st.cursor != 100 || len(st.sets) != 0 {
		t.Errorf("cursor = %d (sets %v), want untouched 100", st.cursor, st.sets)
	}
	if notif.count("failed") != 0 {
		t.Errorf("expired cursor is not a failure: %v", notif.messages)
	}
}

func TestPollDuplicateFromPipelineIsSilent(t *testing.T) {
	mb := &fakeMailbox{refs: refs(101)}
	st := &fakeState{cursor: 100}
	proc := &fakeProcessor{dupIDs: map[string]bool{"m-101": true}}
	notif := &fakeNotifier{}

	n, err := newPoller(mb, st, proc, notif).Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if n != 0 {
		t.Errorf("processed = %d, want 0", n)
	}
	if len(notif.messages) != 0 {
		t.Errorf("duplicates must not alert the operator: %v", notif.messages)
	}
	if st.cursor != 101 {
		t.Errorf("cursor = %d, want 101", st.cursor)
	}
}

func TestPollFailureAlertCarriesPipelineTrace(t *testing.T) {
	mb := &fakeMailbox{refs: refs(101)}
	st := &fakeState{cursor: 100}
	proc := &fakeProcessor{
		failIDs: map[string]bool{"m-101": true},
		failErr: &pipeline.TraceError{TraceID: "trace-42", Err: errors.New("classification blew up")},
	}
	notif := &fakeNotifier{}

	if _, err := newPoller(mb, st, proc, notif).Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if notif.count("Trace: trace-42") != 1 {
		t.Errorf("failure alert missing the pipeline trace: %v", notif.messages)
	}
}

func TestPollFetchFailureAlertsAndContinues(t *testing.T) {
	mb := &fakeMailbox{
		refs:      refs(101, 102),
		getErrIDs: map[string]bool{"m-101": true},
	}
	st := &fakeState{cursor: 100}
	proc := &fakeProcessor{}
	notif := &fakeNotifier{}

	n, err := newPoller(mb, st, proc, notif).Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if n != 1 || len(proc.processed) != 1 || proc.processed[0] != "m-102" {
		t.Errorf("processed = %v, want m-102 only", proc.processed)
	}
	if notif.count("processing failed") != 1 {
		t.Errorf("expected one failure alert, got %v", notif.messages)
	}
}

func TestPollNoNewMessages(t *testing.T) {
	mb := &fakeMailbox{}
	st := &fakeState{cursor: 100}

	n, err := newPoller(mb, st, &fakeProcessor{}, &fakeNotifier{}).Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if n != 0 {
		t.Errorf("processed = %d, want 0", n)
	}
	if len(st.sets) != 0 {
		t.Errorf("cursor must not be rewritten when nothing changed: %v", st.sets)
	}
}
