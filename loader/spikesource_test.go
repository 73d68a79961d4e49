package loader_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sarchlab/akita/v4/sim"
	"github.com/stretchr/testify/require"

	"github.com/NJUAIXGY/SnnDL/loader"
)

func writeDataset(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "spikes.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newSource(t *testing.T, opts ...func(loader.SourceBuilder) loader.SourceBuilder) *loader.SpikeSource {
	t.Helper()
	b := loader.MakeSourceBuilder().WithEngine(sim.NewSerialEngine())
	for _, o := range opts {
		b = o(b)
	}
	return b.Build("Source")
}

func TestLoadFileSkipsCommentsAndBlanks(t *testing.T) {
	path := writeDataset(t, `# spike dataset
0 10

1 5
# trailing comment
2 20
`)

	s := newSource(t)
	require.NoError(t, s.LoadFile(path))

	require.Equal(t, uint64(3), s.EventsLoaded())
	require.Equal(t, 3, s.PendingEvents())

	// Min-ordered by timestamp.
	ts, ok := s.NextEventTime()
	require.True(t, ok)
	require.Equal(t, uint64(5), ts)
}

func TestLoadFileRejectsMalformedLines(t *testing.T) {
	s := newSource(t)

	require.Error(t, s.LoadFile(writeDataset(t, "justone\n")))
	require.Error(t, s.LoadFile(writeDataset(t, "a 10\n")))
	require.Error(t, s.LoadFile(writeDataset(t, "1 ten\n")))
}

func TestLoadFileMissingFile(t *testing.T) {
	s := newSource(t)
	require.Error(t, s.LoadFile("/nonexistent/spikes.txt"))
}

func TestMaxEventsCap(t *testing.T) {
	path := writeDataset(t, "0 1\n1 2\n2 3\n3 4\n")

	s := newSource(t, func(b loader.SourceBuilder) loader.SourceBuilder {
		return b.WithMaxEvents(2)
	})
	require.NoError(t, s.LoadFile(path))
	require.Equal(t, 2, s.PendingEvents())
}

func TestTimeScaleStretchesTimestamps(t *testing.T) {
	path := writeDataset(t, "3 10\n")

	s := newSource(t, func(b loader.SourceBuilder) loader.SourceBuilder {
		return b.WithTimeScale(2.0).WithNeuronOffset(100)
	})
	require.NoError(t, s.LoadFile(path))

	ts, ok := s.NextEventTime()
	require.True(t, ok)
	require.Equal(t, uint64(20), ts)
}
