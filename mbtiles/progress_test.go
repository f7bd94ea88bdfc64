package mbtiles

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type mockProgressWriter struct {
	mu       sync.Mutex
	count    []mockProgressCall
	bytes    []mockProgressCall
	progress []*mockProgress
}

type mockProgressCall struct {
	total       int64
	description string
}

func (m *mockProgressWriter) NewCountProgress(total int64, description string) Progress {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count = append(m.count, mockProgressCall{total, description})
	p := &mockProgress{}
	m.progress = append(m.progress, p)
	return p
}

func (m *mockProgressWriter) NewBytesProgress(total int64, description string) Progress {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bytes = append(m.bytes, mockProgressCall{total, description})
	p := &mockProgress{}
	m.progress = append(m.progress, p)
	return p
}

func (m *mockProgressWriter) countCalls() []mockProgressCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockProgressCall{}, m.count...)
}

type mockProgress struct {
	mu      sync.Mutex
	current int64
	closed  bool
}

func (p *mockProgress) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current += int64(len(data))
	return len(data), nil
}

func (p *mockProgress) Add(num int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current += int64(num)
}

func (p *mockProgress) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// tests run quiet, see TestMain
func resetProgressWriter() {
	SetQuietMode(true)
}

func TestSetProgressWriter(t *testing.T) {
	defer resetProgressWriter()

	mock := &mockProgressWriter{}
	SetProgressWriter(mock)
	assert.Equal(t, mock, getProgressWriter())

	SetProgressWriter(nil)
	assert.IsType(t, quietProgressWriter{}, getProgressWriter())
}

func TestSetQuietMode(t *testing.T) {
	defer resetProgressWriter()

	SetQuietMode(false)
	assert.False(t, IsQuietMode())
	assert.IsType(t, &barProgressWriter{}, getProgressWriter())

	SetQuietMode(true)
	assert.True(t, IsQuietMode())
	assert.IsType(t, quietProgressWriter{}, getProgressWriter())
}

func TestQuietProgress(t *testing.T) {
	p := quietProgressWriter{}.NewBytesProgress(1024, "bytes")
	n, err := p.Write([]byte("data"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	p.Add(10)
	assert.NoError(t, p.Close())
}

func TestCompareReportsProgress(t *testing.T) {
	defer resetProgressWriter()
	a := makeStore(t, "a", grid("a", 1, 0, 1, 0, 1), nil)
	b := makeStore(t, "b", grid("b", 1, 0, 0, 0, 1), nil)

	mock := &mockProgressWriter{}
	SetProgressWriter(mock)
	_, err := Compare(zaptest.NewLogger(t), FromPath(a), FromPath(b), nil)
	require.NoError(t, err)

	assert.Equal(t, []mockProgressCall{{6, "comparing"}}, mock.countCalls())
	require.Len(t, mock.progress, 1)
	assert.Equal(t, int64(6), mock.progress[0].current)
	assert.True(t, mock.progress[0].closed)
}

func TestMergeReportsProgress(t *testing.T) {
	defer resetProgressWriter()
	p1 := makeStore(t, "one", grid("p1", 1, 0, 0, 0, 0), nil)
	p2 := makeStore(t, "two", grid("p2", 1, 1, 1, 0, 0), nil)
	p3 := makeStore(t, "three", grid("p3", 1, 1, 1, 1, 1), nil)

	mock := &mockProgressWriter{}
	SetProgressWriter(mock)
	dest := filepath.Join(t.TempDir(), "merged.mbtiles")
	require.NoError(t, Merge(zaptest.NewLogger(t), dest, []string{p1, p2, p3}, MergeOptions{}))

	// the first source becomes the destination
	assert.Equal(t, []mockProgressCall{{2, "merging"}}, mock.countCalls())
	assert.Equal(t, int64(2), mock.progress[0].current)
}

func TestConcurrentProgressWriter(t *testing.T) {
	defer resetProgressWriter()
	mock := &mockProgressWriter{}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			SetProgressWriter(mock)
			p := getProgressWriter().NewCountProgress(int64(i), "concurrent")
			p.Add(1)
			p.Close()
		}(i)
	}
	wg.Wait()
	assert.Len(t, mock.countCalls(), 10)
}
