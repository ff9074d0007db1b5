// ABOUTME: In-memory Device, FileStore, and Sink doubles shared by utsc tests.
// ABOUTME: The fake device drops a batch of capture files into the store on each trigger.

package utsc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

type memStore struct {
	mu    sync.Mutex
	files map[string][]byte
	mtime map[string]time.Time
	seq   int
}

func newMemStore() *memStore {
	return &memStore{files: make(map[string][]byte), mtime: make(map[string]time.Time)}
}

func (m *memStore) put(name string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.files[name] = data
	m.mtime[name] = time.Unix(1_700_000_000, 0).Add(time.Duration(m.seq) * time.Millisecond)
}

func (m *memStore) List(_ context.Context, prefix string) ([]FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []FileInfo
	for name, data := range m.files {
		if strings.HasPrefix(name, prefix) {
			out = append(out, FileInfo{Name: name, Size: int64(len(data)), ModTime: m.mtime[name]})
		}
	}
	return out, nil
}

func (m *memStore) Read(_ context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[name]
	if !ok {
		return nil, fmt.Errorf("no such file %s", name)
	}
	return data, nil
}

type fakeDevice struct {
	store    *memStore
	prefix   string
	perBurst int

	configureErr error
	triggerErr   func(n int) error
	status       MeasStatus
	now          func() time.Time

	mu         sync.Mutex
	bins       int
	configures int
	triggers   []time.Time
	stops      int
	files      int
}

func (d *fakeDevice) Configure(_ context.Context, p Params) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.configures++
	d.bins = p.NumBins
	return d.configureErr
}

func (d *fakeDevice) Trigger(_ context.Context) error {
	at := time.Now()
	if d.now != nil {
		at = d.now()
	}
	d.mu.Lock()
	d.triggers = append(d.triggers, at)
	n := len(d.triggers)
	d.mu.Unlock()

	if d.triggerErr != nil {
		if err := d.triggerErr(n); err != nil {
			return err
		}
	}
	for i := 0; i < d.perBurst; i++ {
		d.mu.Lock()
		d.files++
		name := fmt.Sprintf("%s_%05d", d.prefix, d.files)
		bins := d.bins
		d.mu.Unlock()
		d.store.put(name, Encode(burstAmplitudes(bins)))
	}
	return nil
}

func (d *fakeDevice) Stop(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stops++
	return nil
}

func (d *fakeDevice) Status(_ context.Context) (MeasStatus, error) {
	return d.status, nil
}

func (d *fakeDevice) counts() (configures, triggers, stops int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.configures, len(d.triggers), d.stops
}

func (d *fakeDevice) triggerTimes() []time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Time(nil), d.triggers...)
}

// burstAmplitudes returns n bins cycling through -10, -20, -30 and -40 dB.
func burstAmplitudes(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = -10 * float64(i%4+1)
	}
	return out
}

var errSinkClosed = errors.New("sink closed")

type recordingSink struct {
	mu       sync.Mutex
	msgs     []StreamMessage
	failFrom int
}

func (s *recordingSink) Send(m StreamMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFrom > 0 && len(s.msgs) >= s.failFrom {
		return errSinkClosed
	}
	s.msgs = append(s.msgs, m)
	return nil
}

func (s *recordingSink) messages() []StreamMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StreamMessage(nil), s.msgs...)
}

func (s *recordingSink) ofType(kind string) []StreamMessage {
	var out []StreamMessage
	for _, m := range s.messages() {
		if m.Type == kind {
			out = append(out, m)
		}
	}
	return out
}

type countingMetrics struct {
	mu       sync.Mutex
	started  int
	ended    []string
	parse    int
	dropped  int
	streamed int
	triggers int
}

func (m *countingMetrics) SessionStarted() { m.mu.Lock(); m.started++; m.mu.Unlock() }
func (m *countingMetrics) TriggerIssued()  { m.mu.Lock(); m.triggers++; m.mu.Unlock() }
func (m *countingMetrics) ParseFailed()    { m.mu.Lock(); m.parse++; m.mu.Unlock() }
func (m *countingMetrics) SampleStreamed() { m.mu.Lock(); m.streamed++; m.mu.Unlock() }
func (m *countingMetrics) SampleDropped()  { m.mu.Lock(); m.dropped++; m.mu.Unlock() }
func (m *countingMetrics) SessionEnded(r string) {
	m.mu.Lock()
	m.ended = append(m.ended, r)
	m.mu.Unlock()
}
