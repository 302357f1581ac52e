package tests

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imagetrove/dcmdir/internal/csvtab"
	"github.com/imagetrove/dcmdir/internal/dcm"
	"github.com/imagetrove/dcmdir/internal/dirfile"
	"github.com/imagetrove/dcmdir/internal/dirindex"
	"github.com/imagetrove/dcmdir/internal/factory"
	"github.com/imagetrove/dcmdir/internal/uid"
)

// testFixture bundles the shared state for integration tests: a real
// container file on disk and an engine wired with the default record
// factory, the same assembly the CLI uses.
type testFixture struct {
	path string
	eng  *dirindex.Engine
}

func setup(t *testing.T) *testFixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "DICOMDIR")
	sess, err := dirfile.Create(path, dirfile.FilesetInfo{UID: uid.New(), ID: "ARCHIVE"})
	require.NoError(t, err)
	eng := dirindex.New(sess, factory.Default(), dirindex.Options{CheckDuplicate: true}, nil)
	t.Cleanup(func() { _ = eng.Close() })
	return &testFixture{path: path, eng: eng}
}

// reopen closes the fixture's engine and opens a fresh one over the
// same file, forcing every assertion after it through the on-disk
// representation.
func (fx *testFixture) reopen(t *testing.T) {
	t.Helper()
	require.NoError(t, fx.eng.Close())
	sess, err := dirfile.Open(fx.path)
	require.NoError(t, err)
	fx.eng = dirindex.New(sess, factory.Default(), dirindex.Options{CheckDuplicate: true}, nil)
}

const archiveTable = `PatientID,PatientName,StudyInstanceUID,SeriesInstanceUID,Modality,SOPInstanceUID,ReferencedFileID
P1,DOE^JOHN,1.2.3.1,1.2.3.1.1,CT,1.2.3.1.1.1,DICOM/IM000001
P1,DOE^JOHN,1.2.3.1,1.2.3.1.1,CT,1.2.3.1.1.2,DICOM/IM000002
P1,DOE^JOHN,1.2.3.1,1.2.3.1.2,MR,1.2.3.1.2.1,DICOM/IM000003
P2,ROE^JANE,1.2.3.2,1.2.3.2.1,US,1.2.3.2.1.1,DICOM/IM000004
`

func importArchive(t *testing.T, fx *testFixture) csvtab.Result {
	t.Helper()
	imp := &csvtab.Importer{Engine: fx.eng}
	res, err := imp.Import(strings.NewReader(archiveTable))
	require.NoError(t, err)
	return res
}

func instanceUIDs(t *testing.T, fx *testFixture) []string {
	t.Helper()
	var uids []string
	require.NoError(t, fx.eng.List(true, func(_ int, rec *dirfile.Record) error {
		if rec.Type == dirfile.Image {
			uids = append(uids, rec.Attrs.GetString(dcm.TagReferencedSOPInstanceUID))
		}
		return nil
	}))
	return uids
}

func removeInstance(t *testing.T, fx *testFixture, pid, study, series, sop string) bool {
	t.Helper()
	src := dcm.NewDataSet(
		dcm.NewString(dcm.TagPatientID, pid),
		dcm.NewString(dcm.TagStudyInstanceUID, study),
		dcm.NewString(dcm.TagSeriesInstanceUID, series),
		dcm.NewString(dcm.TagSOPInstanceUID, sop),
	)
	ok, err := fx.eng.RemoveReference(src, dcm.NewDataSet())
	require.NoError(t, err)
	return ok
}

func TestArchiveLifecycle(t *testing.T) {
	fx := setup(t)

	res := importArchive(t, fx)
	assert.Equal(t, 4, res.Created)
	assert.Equal(t, 12, res.Records, "2 patients, 2 studies, 3 series, 4 instances, plus the shared parents")

	fx.reopen(t)
	assert.Equal(t,
		[]string{"1.2.3.1.1.1", "1.2.3.1.1.2", "1.2.3.1.2.1", "1.2.3.2.1.1"},
		instanceUIDs(t, fx))

	// drop the MR series' only instance, then its empty parents
	require.True(t, removeInstance(t, fx, "P1", "1.2.3.1", "1.2.3.1.2", "1.2.3.1.2.1"))
	purged, err := fx.eng.Purge()
	require.NoError(t, err)
	assert.Equal(t, 2, purged, "the deleted instance and its emptied series; the study still holds the CT series")

	fx.reopen(t)
	assert.Equal(t,
		[]string{"1.2.3.1.1.1", "1.2.3.1.1.2", "1.2.3.2.1.1"},
		instanceUIDs(t, fx))

	before, err := os.Stat(fx.path)
	require.NoError(t, err)
	require.NoError(t, fx.eng.Compact())
	after, err := os.Stat(fx.path)
	require.NoError(t, err)
	assert.Less(t, after.Size(), before.Size())

	st, err := fx.eng.Verify()
	require.NoError(t, err)
	assert.Equal(t, st.Records, st.InUse)
	assert.Zero(t, st.Orphans)
	assert.Zero(t, st.DeadBytes)

	fx.reopen(t)
	assert.Equal(t,
		[]string{"1.2.3.1.1.1", "1.2.3.1.1.2", "1.2.3.2.1.1"},
		instanceUIDs(t, fx))
}

func TestReimportAfterRemoveRestoresInstance(t *testing.T) {
	fx := setup(t)
	importArchive(t, fx)

	require.True(t, removeInstance(t, fx, "P2", "1.2.3.2", "1.2.3.2.1", "1.2.3.2.1.1"))
	assert.NotContains(t, instanceUIDs(t, fx), "1.2.3.2.1.1")

	res := importArchive(t, fx)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 3, res.Duplicates)
	assert.Contains(t, instanceUIDs(t, fx), "1.2.3.2.1.1")
}

// A crash between compaction's two renames leaves only .tmp and .bak
// on disk. Opening the file afterwards must finish the swap and lose
// nothing.
func TestInterruptedCompactionRollsForward(t *testing.T) {
	fx := setup(t)
	importArchive(t, fx)
	require.NoError(t, fx.eng.Close())

	// simulate the crash window: active file renamed away, .tmp not yet in place
	tmp := dirfile.TempPath(fx.path)
	data, err := os.ReadFile(fx.path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(tmp, data, 0o644))
	require.NoError(t, os.Rename(fx.path, dirfile.BackupPath(fx.path)))

	sess, err := dirfile.Open(fx.path)
	require.NoError(t, err)
	fx.eng = dirindex.New(sess, factory.Default(), dirindex.Options{CheckDuplicate: true}, nil)

	assert.Len(t, instanceUIDs(t, fx), 4)
	assert.NoFileExists(t, tmp)
}

func TestConcurrentWriterLockedOut(t *testing.T) {
	fx := setup(t)
	importArchive(t, fx)

	_, err := dirfile.Open(fx.path)
	require.ErrorIs(t, err, dirfile.ErrBusy)

	ro, err := dirfile.OpenReadOnly(fx.path)
	require.NoError(t, err)
	defer func() { _ = ro.Close() }()
	var n int
	require.NoError(t, ro.ScanRecords(func(*dirfile.Record) error { n++; return nil }))
	assert.Equal(t, 12, n)
}
