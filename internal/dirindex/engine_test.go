package dirindex

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imagetrove/dcmdir/internal/dcm"
	"github.com/imagetrove/dcmdir/internal/dirfile"
	"github.com/imagetrove/dcmdir/internal/factory"
)

type instance struct {
	patient, study, series, sop string
	fileID                      []string
}

func (in instance) source() dcm.DataSet {
	var ds dcm.DataSet
	if in.patient != "" {
		ds.SetString(dcm.TagPatientID, in.patient)
		ds.SetString(dcm.TagPatientName, "DOE^"+in.patient)
	}
	if in.study != "" {
		ds.SetString(dcm.TagStudyInstanceUID, in.study)
	}
	if in.series != "" {
		ds.SetString(dcm.TagSeriesInstanceUID, in.series)
		ds.SetString(dcm.TagModality, "CT")
	}
	if in.sop != "" {
		ds.SetString(dcm.TagSOPInstanceUID, in.sop)
		ds.SetString(dcm.TagSOPClassUID, "1.2.840.10008.5.1.4.1.1.2")
	}
	return ds
}

func newTestEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "DICOMDIR")
	sess, err := dirfile.Create(path, dirfile.FilesetInfo{UID: "1.2.3.4", ID: "ENGTEST"})
	require.NoError(t, err)
	e := New(sess, factory.Default(), opts, nil)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func add(t *testing.T, e *Engine, in instance) int {
	t.Helper()
	n, err := e.AddReference(in.source(), dcm.DataSet{}, in.fileID)
	require.NoError(t, err)
	return n
}

type listed struct {
	depth int
	typ   dirfile.RecordType
	key   string
}

func listAll(t *testing.T, e *Engine, inUseOnly bool) []listed {
	t.Helper()
	var out []listed
	require.NoError(t, e.List(inUseOnly, func(depth int, rec *dirfile.Record) error {
		out = append(out, listed{depth, rec.Type, rec.Key()})
		return nil
	}))
	return out
}

var (
	fileA = instance{patient: "P1", study: "S1", series: "SE1", sop: "I1", fileID: []string{"DICOM", "IM000001"}}
	fileB = instance{patient: "P1", study: "S1", series: "SE1", sop: "I2", fileID: []string{"DICOM", "IM000002"}}
)

func TestAddBuildsFourLevelChain(t *testing.T) {
	e := newTestEngine(t, Options{CheckDuplicate: true})

	assert.Equal(t, 4, add(t, e, fileA))
	assert.Equal(t, 1, add(t, e, fileB), "shared parents must be reused")

	got := listAll(t, e, true)
	want := []listed{
		{0, dirfile.Patient, "P1"},
		{1, dirfile.Study, "S1"},
		{2, dirfile.Series, "SE1"},
		{3, dirfile.Image, "I1"},
		{3, dirfile.Image, "I2"},
	}
	assert.Equal(t, want, got)
}

func TestAddDuplicateIsNoOp(t *testing.T) {
	e := newTestEngine(t, Options{CheckDuplicate: true})

	assert.Equal(t, 4, add(t, e, fileA))
	assert.Equal(t, 0, add(t, e, fileA), "at-most-once insertion")
	assert.Equal(t, 0, add(t, e, fileA))

	instances := 0
	for _, l := range listAll(t, e, true) {
		if l.typ == dirfile.Image {
			instances++
		}
	}
	assert.Equal(t, 1, instances)
}

func TestAddWithoutDuplicateCheck(t *testing.T) {
	e := newTestEngine(t, Options{})

	assert.Equal(t, 4, add(t, e, fileA))
	assert.Equal(t, 1, add(t, e, fileA), "without the check the instance is appended again")

	instances := 0
	for _, l := range listAll(t, e, true) {
		if l.typ == dirfile.Image {
			instances++
		}
	}
	assert.Equal(t, 2, instances)
}

func TestRootInstanceFallback(t *testing.T) {
	e := newTestEngine(t, Options{CheckDuplicate: true})

	n := add(t, e, instance{sop: "I9", fileID: []string{"MISC", "OBJ1"}})
	assert.Equal(t, 1, n)

	got := listAll(t, e, true)
	require.Len(t, got, 1)
	assert.Equal(t, listed{0, dirfile.Image, "I9"}, got[0])

	// Root instances share the uniqueness scope.
	assert.Equal(t, 0, add(t, e, instance{sop: "I9"}))
}

func TestRootInstancesAndPatientsShareRootChain(t *testing.T) {
	e := newTestEngine(t, Options{CheckDuplicate: true})

	add(t, e, fileA)
	add(t, e, instance{sop: "I9"})
	add(t, e, instance{patient: "P2", study: "S2", series: "SE2", sop: "I3"})

	var roots []listed
	for _, l := range listAll(t, e, true) {
		if l.depth == 0 {
			roots = append(roots, l)
		}
	}
	assert.Equal(t, []listed{
		{0, dirfile.Patient, "P1"},
		{0, dirfile.Image, "I9"},
		{0, dirfile.Patient, "P2"},
	}, roots)
}

func TestPatientIDDefaultsToStudyUID(t *testing.T) {
	in := instance{study: "S1", series: "SE1", sop: "I1"}

	e := newTestEngine(t, Options{CheckDuplicate: true, PatientIDFromStudy: true})
	assert.Equal(t, 4, add(t, e, in))
	got := listAll(t, e, true)
	assert.Equal(t, listed{0, dirfile.Patient, "S1"}, got[0])

	// Without the policy flag the record cannot be placed.
	e2 := newTestEngine(t, Options{CheckDuplicate: true})
	_, err := e2.AddReference(in.source(), dcm.DataSet{}, nil)
	require.Error(t, err)
}

func TestSourceWithNoKeysIsSkipped(t *testing.T) {
	e := newTestEngine(t, Options{CheckDuplicate: true})
	n, err := e.AddReference(dcm.NewDataSet(dcm.NewString(dcm.TagPatientName, "X")), dcm.DataSet{}, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAddWithoutFactory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "DICOMDIR")
	sess, err := dirfile.Create(path, dirfile.FilesetInfo{UID: "1.2.3.4", ID: "X"})
	require.NoError(t, err)
	e := New(sess, nil, Options{}, nil)
	defer func() { _ = e.Close() }()

	_, err = e.AddReference(fileA.source(), dcm.DataSet{}, nil)
	assert.ErrorIs(t, err, ErrNoFactory)
}

func TestRemoveIsIdempotent(t *testing.T) {
	e := newTestEngine(t, Options{CheckDuplicate: true})
	add(t, e, fileA)
	add(t, e, fileB)

	found, err := e.RemoveReference(fileA.source(), dcm.DataSet{})
	require.NoError(t, err)
	assert.True(t, found)

	found, err = e.RemoveReference(fileA.source(), dcm.DataSet{})
	require.NoError(t, err)
	assert.False(t, found, "second removal reports not-found, no error")

	got := listAll(t, e, true)
	want := []listed{
		{0, dirfile.Patient, "P1"},
		{1, dirfile.Study, "S1"},
		{2, dirfile.Series, "SE1"},
		{3, dirfile.Image, "I2"},
	}
	assert.Equal(t, want, got)

	// The record is soft-deleted, not gone.
	all := listAll(t, e, false)
	assert.Len(t, all, 5)
}

func TestRemoveRootInstance(t *testing.T) {
	e := newTestEngine(t, Options{CheckDuplicate: true})
	add(t, e, instance{sop: "I9"})

	found, err := e.RemoveReference(instance{sop: "I9"}.source(), dcm.DataSet{})
	require.NoError(t, err)
	assert.True(t, found)
	assert.Empty(t, listAll(t, e, true))
}

func TestRemovedInstanceCanBeReAdded(t *testing.T) {
	e := newTestEngine(t, Options{CheckDuplicate: true})
	add(t, e, fileA)

	_, err := e.RemoveReference(fileA.source(), dcm.DataSet{})
	require.NoError(t, err)

	// The deleted record must not satisfy the duplicate check.
	assert.Equal(t, 1, add(t, e, fileA))
}

func TestPurgeUnlinksAndTrims(t *testing.T) {
	e := newTestEngine(t, Options{CheckDuplicate: true})
	add(t, e, fileA)
	add(t, e, fileB)
	add(t, e, instance{patient: "P2", study: "S2", series: "SE2", sop: "I3"})

	_, err := e.RemoveReference(fileA.source(), dcm.DataSet{})
	require.NoError(t, err)
	// Remove P2's only instance; purge should fold the whole branch.
	_, err = e.RemoveReference(instance{patient: "P2", study: "S2", series: "SE2", sop: "I3"}.source(), dcm.DataSet{})
	require.NoError(t, err)

	removed, err := e.Purge()
	require.NoError(t, err)
	// I1, I3, and P2's series, study and patient records.
	assert.Equal(t, 5, removed)

	// After purge even the raw walk no longer reaches the dead chain.
	all := listAll(t, e, false)
	want := []listed{
		{0, dirfile.Patient, "P1"},
		{1, dirfile.Study, "S1"},
		{2, dirfile.Series, "SE1"},
		{3, dirfile.Image, "I2"},
	}
	assert.Equal(t, want, all)

	// Purge reclaims no space.
	st, err := e.Verify()
	require.NoError(t, err)
	assert.Equal(t, 9, st.Records)
	assert.Positive(t, st.DeadBytes)
}

func TestPurgeOnCleanFile(t *testing.T) {
	e := newTestEngine(t, Options{CheckDuplicate: true})
	add(t, e, fileA)

	removed, err := e.Purge()
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.Len(t, listAll(t, e, true), 4)
}

type recordTuple struct {
	typ     dirfile.RecordType
	key     string
	name    string
	fileIDs []string
}

func inUseTuples(t *testing.T, e *Engine) []recordTuple {
	t.Helper()
	var out []recordTuple
	require.NoError(t, e.List(true, func(_ int, rec *dirfile.Record) error {
		out = append(out, recordTuple{
			typ:     rec.Type,
			key:     rec.Key(),
			name:    rec.Attrs.GetString(dcm.TagPatientName),
			fileIDs: rec.FileIDs(),
		})
		return nil
	}))
	return out
}

func TestCompactPreservesContentAndDropsDeadBytes(t *testing.T) {
	e := newTestEngine(t, Options{CheckDuplicate: true})
	add(t, e, fileA)
	add(t, e, fileB)
	add(t, e, instance{sop: "I9", fileID: []string{"MISC", "OBJ1"}})

	_, err := e.RemoveReference(fileA.source(), dcm.DataSet{})
	require.NoError(t, err)

	before := inUseTuples(t, e)
	sizeBefore := e.Session().Size()

	require.NoError(t, e.Compact())

	assert.Equal(t, before, inUseTuples(t, e), "in-use content must survive compaction")
	assert.Less(t, e.Session().Size(), sizeBefore)

	st, err := e.Verify()
	require.NoError(t, err)
	assert.Zero(t, st.DeadBytes, "inactive byte overhead goes to zero")
	assert.Zero(t, st.Orphans)
	assert.Equal(t, st.Records, st.InUse)

	// The backup of the old container remains next to the new one.
	_, err = os.Stat(dirfile.BackupPath(e.Session().Path()))
	assert.NoError(t, err)
}

func TestCompactEmptyDirectory(t *testing.T) {
	e := newTestEngine(t, Options{CheckDuplicate: true})
	require.NoError(t, e.Compact())
	assert.Empty(t, listAll(t, e, true))
}

func TestCompactedFileReopensClean(t *testing.T) {
	path := filepath.Join(t.TempDir(), "DICOMDIR")
	sess, err := dirfile.Create(path, dirfile.FilesetInfo{UID: "1.2.3.4", ID: "ENGTEST"})
	require.NoError(t, err)
	e := New(sess, factory.Default(), Options{CheckDuplicate: true}, nil)

	add(t, e, fileA)
	_, err = e.RemoveReference(fileA.source(), dcm.DataSet{})
	require.NoError(t, err)
	require.NoError(t, e.Compact())
	require.NoError(t, e.Close())

	sess, err = dirfile.Open(path)
	require.NoError(t, err)
	e = New(sess, factory.Default(), Options{CheckDuplicate: true}, nil)
	defer func() { _ = e.Close() }()

	// P1's chain was fully removed before compaction, so only the
	// structural records survive... none, since purge semantics do not
	// apply here: compact copies the still-linked parents.
	got := listAll(t, e, true)
	want := []listed{
		{0, dirfile.Patient, "P1"},
		{1, dirfile.Study, "S1"},
		{2, dirfile.Series, "SE1"},
	}
	assert.Equal(t, want, got)
}

func TestVerifyWellFormedness(t *testing.T) {
	e := newTestEngine(t, Options{CheckDuplicate: true})
	add(t, e, fileA)
	add(t, e, fileB)

	st, err := e.Verify()
	require.NoError(t, err)
	assert.Equal(t, 5, st.Records)
	assert.Equal(t, 5, st.InUse)
	assert.Equal(t, 5, st.Reachable)
	assert.Zero(t, st.Orphans)
	assert.Zero(t, st.DeadBytes)
}

func TestVerifyDetectsCycle(t *testing.T) {
	e := newTestEngine(t, Options{CheckDuplicate: true})
	add(t, e, fileA)
	add(t, e, fileB)

	// Corrupt: point I2's next-sibling back at I1.
	var i1, i2 int64
	require.NoError(t, e.List(true, func(_ int, rec *dirfile.Record) error {
		switch rec.Key() {
		case "I1":
			i1 = rec.Offset
		case "I2":
			i2 = rec.Offset
		}
		return nil
	}))
	require.NoError(t, e.Session().LinkSibling(i2, i1))

	_, err := e.Verify()
	assert.ErrorIs(t, err, dirfile.ErrCorrupt)
}

func TestReadOnlyEngine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "DICOMDIR")
	sess, err := dirfile.Create(path, dirfile.FilesetInfo{UID: "1.2.3.4", ID: "ENGTEST"})
	require.NoError(t, err)
	e := New(sess, factory.Default(), Options{CheckDuplicate: true}, nil)
	add(t, e, fileA)
	require.NoError(t, e.Close())

	sess, err = dirfile.OpenReadOnly(path)
	require.NoError(t, err)
	ro := New(sess, factory.Default(), Options{CheckDuplicate: true}, nil)
	defer func() { _ = ro.Close() }()

	_, err = ro.AddReference(fileB.source(), dcm.DataSet{}, nil)
	assert.ErrorIs(t, err, dirfile.ErrReadOnly)
	_, err = ro.RemoveReference(fileA.source(), dcm.DataSet{})
	assert.ErrorIs(t, err, dirfile.ErrReadOnly)
	_, err = ro.Purge()
	assert.ErrorIs(t, err, dirfile.ErrReadOnly)
	assert.ErrorIs(t, ro.Compact(), dirfile.ErrReadOnly)

	assert.Len(t, listAll(t, ro, true), 4)
}
