package objectsync

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dmitrijs2005/playersync/internal/common"
	"github.com/dmitrijs2005/playersync/internal/datasync"
	"github.com/dmitrijs2005/playersync/internal/identity"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBucket struct {
	mu       sync.Mutex
	objects  map[string][]byte
	ctypes   map[string]string
	getErr   error
	putErr   error
	headErr  error
	lastHead string
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: map[string][]byte{}, ctypes: map[string]string{}}
}

func (f *fakeBucket) HeadBucket(_ context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastHead = aws.ToString(in.Bucket)
	return &s3.HeadBucketOutput{}, f.headErr
}

func (f *fakeBucket) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	b, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (f *fakeBucket) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return nil, f.putErr
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(in.Key)
	f.objects[key] = b
	f.ctypes[key] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

type walletDoc struct {
	Coins int `yaml:"coins"`
}

type walletSnapshot struct {
	ID    uuid.UUID
	Coins int
}

type walletHolder struct {
	*datasync.Base
	coins int
	fresh bool
}

func (h *walletHolder) Snapshot() walletSnapshot { return walletSnapshot{ID: h.ID(), Coins: h.coins} }

type walletCodec struct{}

func (walletCodec) Document(h *walletHolder) walletDoc { return walletDoc{Coins: h.coins} }

func (walletCodec) Apply(h *walletHolder, d *walletDoc) error {
	if d == nil {
		h.fresh = true
		return nil
	}
	h.coins = d.Coins
	return nil
}

func (walletCodec) Snapshot(id uuid.UUID, d *walletDoc) walletSnapshot {
	if d == nil {
		return walletSnapshot{ID: id}
	}
	return walletSnapshot{ID: id, Coins: d.Coins}
}

func newWalletHolder() *walletHolder {
	return &walletHolder{Base: datasync.NewBase(identity.NewCache().AttachSession(uuid.New(), nil))}
}

func newTestHandler(b *fakeBucket) *Handler[*walletHolder, walletSnapshot, walletDoc] {
	return NewHandler[*walletHolder, walletSnapshot, walletDoc](b, "players", "userdata", walletCodec{}, nil)
}

func TestSetup(t *testing.T) {
	b := newFakeBucket()
	h := newTestHandler(b)

	require.NoError(t, h.Setup(context.Background()))
	assert.Equal(t, "players", b.lastHead)

	b.headErr = errors.New("403 Forbidden")
	err := h.Setup(context.Background())
	assert.ErrorIs(t, err, common.ErrBackendUnavailable)
}

func TestLoad_MissingObject(t *testing.T) {
	h := newTestHandler(newFakeBucket())
	holder := newWalletHolder()

	require.NoError(t, h.Load(context.Background(), holder))
	assert.True(t, holder.fresh)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	b := newFakeBucket()
	h := newTestHandler(b)
	ctx := context.Background()

	holder := newWalletHolder()
	holder.coins = 250
	require.NoError(t, h.Save(ctx, holder, false))

	key := "userdata/" + holder.ID().String() + ".yml"
	assert.Equal(t, key, h.Key(holder.ID()))
	assert.Equal(t, "coins: 250\n", string(b.objects[key]))
	assert.Equal(t, contentType, b.ctypes[key])

	again := &walletHolder{Base: datasync.NewBase(holder.Record())}
	require.NoError(t, h.Load(ctx, again))
	assert.False(t, again.fresh)
	assert.Equal(t, 250, again.coins)
	assert.Equal(t, walletSnapshot{ID: holder.ID(), Coins: 250}, h.Offline(ctx, holder.ID()))
}

func TestBackendFailures(t *testing.T) {
	b := newFakeBucket()
	h := newTestHandler(b)
	ctx := context.Background()
	holder := newWalletHolder()

	b.getErr = errors.New("connection refused")
	assert.ErrorIs(t, h.Load(ctx, holder), common.ErrBackendUnavailable)
	assert.Equal(t, walletSnapshot{ID: holder.ID()}, h.Offline(ctx, holder.ID()), "offline falls back to default")

	b.putErr = errors.New("slow down")
	assert.ErrorIs(t, h.Save(ctx, holder, true), common.ErrBackendUnavailable)
	assert.NoError(t, h.Close())
}

func TestLoad_CorruptObject(t *testing.T) {
	b := newFakeBucket()
	h := newTestHandler(b)
	holder := newWalletHolder()
	b.objects[h.Key(holder.ID())] = []byte("coins: {")

	err := h.Load(context.Background(), holder)
	require.Error(t, err)
	assert.NotErrorIs(t, err, common.ErrBackendUnavailable)
}
