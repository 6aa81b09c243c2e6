package fetcher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectRecords(t *testing.T, recCh <-chan Record, errCh <-chan error) ([]Record, error) {
	t.Helper()
	var recs []Record
	for rec := range recCh {
		recs = append(recs, rec)
	}
	for err := range errCh {
		if err != nil {
			return recs, err
		}
	}
	return recs, nil
}

const permitCSV = "\ufeffregistrationNumber,holder.name,register.label,distance\n" +
	"EPR/AB1234CD,Acme Waste Ltd,Waste Operations,0.42\n" +
	"EPR/ZZ9999ZZ, \"Riverside Farm\" ,Flood Risk Activity Exemptions,0.91\n"

func TestStreamRecords_PermitSearch(t *testing.T) {
	recCh, errCh := StreamRecords(context.Background(), strings.NewReader(permitCSV), CSVOptions{
		TrimSpace:  true,
		LazyQuotes: true,
	})
	recs, err := collectRecords(t, recCh, errCh)
	require.NoError(t, err)

	require.Len(t, recs, 2)
	assert.Equal(t, "EPR/AB1234CD", recs[0]["registrationNumber"], "BOM should be stripped from the first header")
	assert.Equal(t, "Acme Waste Ltd", recs[0]["holder.name"])
	assert.Equal(t, "0.91", recs[1]["distance"])
	assert.Contains(t, recs[1]["holder.name"], "Riverside Farm")
}

func TestStreamRecords_ShortRow(t *testing.T) {
	recCh, errCh := StreamRecords(context.Background(), strings.NewReader("a,b,c\n1,2\n"), CSVOptions{})
	recs, err := collectRecords(t, recCh, errCh)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	_, ok := recs[0]["c"]
	assert.False(t, ok)
	assert.Equal(t, "2", recs[0]["b"])
}

func TestStreamRecords_HeaderOnly(t *testing.T) {
	recCh, errCh := StreamRecords(context.Background(), strings.NewReader("a,b\n"), CSVOptions{})
	recs, err := collectRecords(t, recCh, errCh)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestStreamRecords_Empty(t *testing.T) {
	recCh, errCh := StreamRecords(context.Background(), strings.NewReader(""), CSVOptions{})
	recs, err := collectRecords(t, recCh, errCh)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestStreamRecords_Delimiter(t *testing.T) {
	recCh, errCh := StreamRecords(context.Background(), strings.NewReader("a;b\n1;2\n"), CSVOptions{Delimiter: ';'})
	recs, err := collectRecords(t, recCh, errCh)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, Record{"a": "1", "b": "2"}, recs[0])
}

func TestStreamRecords_MalformedQuotes(t *testing.T) {
	recCh, errCh := StreamRecords(context.Background(), strings.NewReader("a,b\n1,\"unterminated\n"), CSVOptions{})
	_, err := collectRecords(t, recCh, errCh)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "csv: read row")
}

func TestStreamRecords_ContextCancellation(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("registrationNumber,holder.name,register.label,distance\n")
	for range 10000 {
		sb.WriteString("EPR/1,holder,label,0.1\n")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	recCh, errCh := StreamRecords(ctx, strings.NewReader(sb.String()), CSVOptions{})

	count := 0
	for range recCh {
		count++
		if count == 5 {
			cancel()
		}
	}

	var gotErr error
	for err := range errCh {
		gotErr = err
	}
	// The reader may finish before noticing the cancellation.
	if gotErr != nil {
		assert.Contains(t, gotErr.Error(), "context cancelled")
	}
}

func TestRecordFirst(t *testing.T) {
	rec := Record{"registrationNumber": "", "@id": "http://x/1", "holder.name": "Acme"}
	assert.Equal(t, "http://x/1", rec.First("registrationNumber", "@id"))
	assert.Equal(t, "Acme", rec.First("holder.name"))
	assert.Empty(t, rec.First("missing"))
}
