package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncore/coreserver/pkg/rpcdal"
	"github.com/syncore/coreserver/pkg/txerr"
	"github.com/syncore/coreserver/pkg/uploadregistry"
)

func newUploadJob(t *testing.T, f *fixture, params UploadParams) *UploadJob {
	t.Helper()
	rec, err := f.registry.Make(ctx(), params.UserID, params.VolumeID, params.NodeID,
		params.PreviousHash, params.HashHint, params.CRC32Hint, params.InflatedSize)
	require.NoError(t, err)
	return New(params, f.rpc, f.store, f.registry, []byte(testSalt), rec, DefaultConfig())
}

func TestUploadJobFreshUploadCommits(t *testing.T) {
	f := newFixture(t, 1<<20)
	plaintext := []byte("hello, content-addressed world")
	deflated := deflate(t, plaintext)
	params, _ := f.freshParams(t, plaintext)

	job := newUploadJob(t, f, params)

	begin, err := job.Connect(ctx())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), begin.Offset)
	assert.NotEmpty(t, begin.UploadID)

	require.NoError(t, job.AddData(ctx(), deflated))

	gen, err := job.Commit(ctx())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), gen)

	node, err := f.rpc.GetNode(ctx(), params.VolumeID, params.NodeID)
	require.NoError(t, err)
	assert.Equal(t, params.HashHint, node.ContentHash)
	assert.Equal(t, params.InflatedSize, node.Size)

	_, err = f.registry.Get(ctx(), params.UserID, params.VolumeID, params.NodeID, job.UploadID(), params.HashHint, params.CRC32Hint)
	assert.ErrorIs(t, err, uploadregistry.ErrNotFound, "Commit must release the record")
}

func TestUploadJobResumePicksUpFromUploadedBytes(t *testing.T) {
	f := newFixture(t, 1<<20)
	plaintext := []byte("resume me please, across a reconnect")
	params, _ := f.freshParams(t, plaintext)

	rec, err := f.registry.Make(ctx(), params.UserID, params.VolumeID, params.NodeID,
		params.PreviousHash, params.HashHint, params.CRC32Hint, params.InflatedSize)
	require.NoError(t, err)
	require.NoError(t, f.registry.AddPart(ctx(), rec, 4096))

	job := New(params, f.rpc, f.store, f.registry, []byte(testSalt), rec, DefaultConfig())
	begin, err := job.Connect(ctx())
	require.NoError(t, err)
	assert.Equal(t, uint64(4096), begin.Offset)
}

func TestUploadJobQuotaExceeded(t *testing.T) {
	f := newFixture(t, 10)
	plaintext := []byte("this plaintext is much larger than the tiny quota")
	params, _ := f.freshParams(t, plaintext)

	job := newUploadJob(t, f, params)
	_, err := job.Connect(ctx())

	var terr *txerr.Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, txerr.CodeQuotaExceeded, terr.Code())
}

func TestUploadJobRejectsDirectoryTarget(t *testing.T) {
	f := newFixture(t, 1<<20)
	dir := f.rpc.AddDir(f.fileNode.VolumeID, f.rootID, "subdir")

	params, _ := f.freshParams(t, []byte("x"))
	params.NodeID = dir.ID

	job := newUploadJob(t, f, params)
	_, err := job.Connect(ctx())

	var terr *txerr.Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, txerr.CodeNoPermission, terr.Code())
}

func TestUploadJobDedupSkipsWriterWhenUserOwnsHash(t *testing.T) {
	f := newFixture(t, 1<<20)
	plaintext := []byte("owned-once, deduped-twice")

	// First upload: real write, establishes ownership of the hash.
	params1, h := f.freshParams(t, plaintext)
	job1 := newUploadJob(t, f, params1)
	_, err := job1.Connect(ctx())
	require.NoError(t, err)
	require.NoError(t, job1.AddData(ctx(), deflate(t, plaintext)))
	_, err = job1.Commit(ctx())
	require.NoError(t, err)

	// Second upload: a different file, same user, same plaintext hash.
	otherFile := f.rpc.AddFile(f.fileNode.VolumeID, f.rootID, "copy.txt")
	params2 := params1
	params2.NodeID = otherFile.ID
	params2.PreviousHash = rpcdal.EmptyHash

	job2 := newUploadJob(t, f, params2)
	begin, err := job2.Connect(ctx())
	require.NoError(t, err)
	assert.Equal(t, params2.DeflatedSize, begin.Offset, "dedup publishes offset = deflated_size")

	gen, err := job2.Commit(ctx())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), gen)

	node, err := f.rpc.GetNode(ctx(), params2.VolumeID, params2.NodeID)
	require.NoError(t, err)
	assert.Equal(t, h.contentHash, node.ContentHash)
}

func TestUploadJobCrossUserMagicDedup(t *testing.T) {
	f := newFixture(t, 1<<20)
	plaintext := []byte("shared bytes, only the magic hash proves possession")

	// User A (the fixture's default user) uploads with a magic hash hint,
	// establishing a blob with a magic hash the content-hash-only dedup
	// path in TestUploadJobDedupSkipsWriterWhenUserOwnsHash never sets.
	paramsA, h := f.freshParams(t, plaintext)
	paramsA.MagicHashHint = h.magicHash
	jobA := newUploadJob(t, f, paramsA)
	_, err := jobA.Connect(ctx())
	require.NoError(t, err)
	require.NoError(t, jobA.AddData(ctx(), deflate(t, plaintext)))
	_, err = jobA.Commit(ctx())
	require.NoError(t, err)

	// User B is a different account that has never uploaded this content
	// and so does not own the hash; supplying the correct magic_hash_hint
	// must still hit the dedup path per spec.md §8 scenario 7.
	userB, rootB := f.rpc.AddUser("bob", 1<<20)
	fileB := f.rpc.AddFile(userB.RootVolumeID, rootB, "shared.txt")
	deflated := deflate(t, plaintext)

	paramsB := UploadParams{
		UserID:        userB.ID,
		VolumeID:      fileB.VolumeID,
		NodeID:        fileB.ID,
		PreviousHash:  rpcdal.EmptyHash,
		HashHint:      h.contentHash,
		CRC32Hint:     h.crc32,
		InflatedSize:  h.size,
		DeflatedSize:  uint64(len(deflated)),
		MagicHashHint: h.magicHash,
	}
	jobB := newUploadJob(t, f, paramsB)
	begin, err := jobB.Connect(ctx())
	require.NoError(t, err)
	assert.True(t, jobB.IsDedup())
	assert.Equal(t, paramsB.DeflatedSize, begin.Offset, "dedup publishes offset = deflated_size")

	gen, err := jobB.Commit(ctx())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), gen)

	node, err := f.rpc.GetNode(ctx(), paramsB.VolumeID, paramsB.NodeID)
	require.NoError(t, err)
	assert.Equal(t, h.contentHash, node.ContentHash)

	// Cross-user dedup must not silently grant ownership B never proved
	// outside of the magic-hash channel: a third user without the hint
	// and without prior ownership gets the full, non-dedup path.
	assertNoMagicHintForcesFullUpload(t, f, h, "missing hint", "")
	assertNoMagicHintForcesFullUpload(t, f, h, "wrong hint", "sha1:0000000000000000000000000000000000000000")
}

func assertNoMagicHintForcesFullUpload(t *testing.T, f *fixture, h hashes, name, hint string) {
	t.Helper()
	t.Run(name, func(t *testing.T) {
		userC, rootC := f.rpc.AddUser("carol-"+name, 1<<20)
		fileC := f.rpc.AddFile(userC.RootVolumeID, rootC, "shared.txt")
		plaintext := []byte("shared bytes, only the magic hash proves possession")
		deflated := deflate(t, plaintext)

		params := UploadParams{
			UserID:        userC.ID,
			VolumeID:      fileC.VolumeID,
			NodeID:        fileC.ID,
			PreviousHash:  rpcdal.EmptyHash,
			HashHint:      h.contentHash,
			CRC32Hint:     h.crc32,
			InflatedSize:  h.size,
			DeflatedSize:  uint64(len(deflated)),
			MagicHashHint: hint,
		}
		job := newUploadJob(t, f, params)
		begin, err := job.Connect(ctx())
		require.NoError(t, err)
		assert.False(t, job.IsDedup())
		assert.Equal(t, uint64(0), begin.Offset, "no dedup: upload must start from offset 0")

		require.NoError(t, job.AddData(ctx(), deflated))
		gen, err := job.Commit(ctx())
		require.NoError(t, err)
		assert.Equal(t, uint64(1), gen)
	})
}

func TestUploadJobHashMismatchIsCorrupt(t *testing.T) {
	f := newFixture(t, 1<<20)
	plaintext := []byte("the real payload")
	params, _ := f.freshParams(t, plaintext)
	params.HashHint = "sha1:0000000000000000000000000000000000000000"

	job := newUploadJob(t, f, params)
	_, err := job.Connect(ctx())
	require.NoError(t, err)
	require.NoError(t, job.AddData(ctx(), deflate(t, plaintext)))

	_, err = job.Commit(ctx())
	var terr *txerr.Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, txerr.CodeUploadCorrupt, terr.Code())
	assert.Contains(t, terr.Error(), "hash mismatch")
}

func TestUploadJobConflictWhenNodeChangedConcurrently(t *testing.T) {
	f := newFixture(t, 1<<20)
	plaintext := []byte("racing writer payload")
	params, _ := f.freshParams(t, plaintext)

	job := newUploadJob(t, f, params)
	_, err := job.Connect(ctx())
	require.NoError(t, err)
	require.NoError(t, job.AddData(ctx(), deflate(t, plaintext)))

	// Another writer commits content to the same node first.
	_, err = f.rpc.MakeContent(ctx(), params.VolumeID, params.NodeID, rpcdal.ContentBlob{
		Hash: "sha1:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", CRC32: 1, Size: 1, DeflatedSize: 1, StorageKey: "other",
	})
	require.NoError(t, err)

	_, err = job.Commit(ctx())
	var terr *txerr.Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, txerr.CodeConflict, terr.Code())

	_, err = f.registry.Get(ctx(), params.UserID, params.VolumeID, params.NodeID, job.UploadID(), params.HashHint, params.CRC32Hint)
	assert.ErrorIs(t, err, uploadregistry.ErrNotFound)
}

func TestUploadJobCancelDiscardsBytesAndRecord(t *testing.T) {
	f := newFixture(t, 1<<20)
	plaintext := []byte("never going to land")
	params, _ := f.freshParams(t, plaintext)

	job := newUploadJob(t, f, params)
	_, err := job.Connect(ctx())
	require.NoError(t, err)
	require.NoError(t, job.AddData(ctx(), deflate(t, plaintext)))

	job.Cancel(ctx())

	// Bytes arriving after Cancel are silently discarded, not errors.
	assert.NoError(t, job.AddData(ctx(), []byte("late")))

	_, err = f.registry.Get(ctx(), params.UserID, params.VolumeID, params.NodeID, job.UploadID(), params.HashHint, params.CRC32Hint)
	assert.ErrorIs(t, err, uploadregistry.ErrNotFound)

	node, err := f.rpc.GetNode(ctx(), params.VolumeID, params.NodeID)
	require.NoError(t, err)
	assert.Equal(t, rpcdal.EmptyHash, node.ContentHash, "cancel must not bind any content")
}

func TestUploadJobStopMakesAddDataNoOp(t *testing.T) {
	f := newFixture(t, 1<<20)
	plaintext := []byte("stopped mid-flight")
	params, _ := f.freshParams(t, plaintext)

	job := newUploadJob(t, f, params)
	_, err := job.Connect(ctx())
	require.NoError(t, err)

	job.Stop()
	assert.NoError(t, job.AddData(ctx(), deflate(t, plaintext)))
}

func TestUploadJobBogusRecordNeverTouchesRegistry(t *testing.T) {
	f := newFixture(t, 1<<20)
	plaintext := []byte("small enough to be bogus")
	params, _ := f.freshParams(t, plaintext)

	rec := uploadregistry.BogusRecord(params.UserID, params.VolumeID, params.NodeID,
		params.PreviousHash, params.HashHint, params.CRC32Hint, params.InflatedSize)
	job := New(params, f.rpc, f.store, f.registry, []byte(testSalt), rec, DefaultConfig())

	_, err := job.Connect(ctx())
	require.NoError(t, err)
	require.NoError(t, job.AddData(ctx(), deflate(t, plaintext)))

	gen, err := job.Commit(ctx())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), gen)
}
