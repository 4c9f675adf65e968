package processor

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/pollsync/internal/config"
	"github.com/dokzlo13/pollsync/internal/resource"
	"github.com/dokzlo13/pollsync/internal/scheduler"
)

type ext struct{}

func descriptor(id string) resource.Descriptor[ext] {
	return resource.Descriptor[ext]{ID: id, Marker: resource.At(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))}
}

func TestRegistry_BuildKeepsDeclarationOrder(t *testing.T) {
	dir := t.TempDir()
	chain, err := Builtin[ext]().Build(context.Background(), []config.ProcessorConfig{
		{Name: "audit", Type: "log", Options: map[string]string{"level": "debug"}},
		{Name: "mirror", Type: "copy", Options: map[string]string{"dir": dir}},
		{Name: "log"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"audit", "mirror", "log"}, chain.Names())
}

func TestRegistry_BuildErrors(t *testing.T) {
	tests := []struct {
		name    string
		cfgs    []config.ProcessorConfig
		wantErr string
	}{
		{name: "unknown type", cfgs: []config.ProcessorConfig{{Name: "x", Type: "ftp"}}, wantErr: `unknown type "ftp"`},
		{name: "copy without dir", cfgs: []config.ProcessorConfig{{Name: "copy"}}, wantErr: "option dir is required"},
		{name: "bad log level", cfgs: []config.ProcessorConfig{{Name: "log", Options: map[string]string{"level": "loud"}}}, wantErr: "invalid level"},
		{name: "s3 without bucket", cfgs: []config.ProcessorConfig{{Name: "s3"}}, wantErr: "option bucket is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Builtin[ext]().Build(context.Background(), tt.cfgs)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRegistry_CustomFactory(t *testing.T) {
	r := NewRegistry[ext]()
	called := false
	r.Register("custom", func(_ context.Context, name string, opts map[string]string) (scheduler.Processor[ext], error) {
		return scheduler.ProcessorFunc[ext](func(context.Context, resource.Descriptor[ext], *resource.Payload) error {
			called = true
			return nil
		}), nil
	})

	chain, err := r.Build(context.Background(), []config.ProcessorConfig{{Name: "custom"}})
	require.NoError(t, err)
	require.NoError(t, chain.Run(context.Background(), descriptor("a"), resource.NewPayload(nil, "")))
	assert.True(t, called)
	assert.Equal(t, []string{"custom"}, r.Types())
}

func TestCopy(t *testing.T) {
	dir := t.TempDir()
	p, err := NewCopy[ext](context.Background(), "copy", map[string]string{"dir": dir})
	require.NoError(t, err)

	payload := resource.NewPayload([]byte("hello"), "text/plain")
	require.NoError(t, p.Process(context.Background(), descriptor("nested/a.txt"), payload))

	data, err := os.ReadFile(filepath.Join(dir, "nested", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	// overwrite in place
	require.NoError(t, p.Process(context.Background(), descriptor("nested/a.txt"), resource.NewPayload([]byte("bye"), "")))
	data, err = os.ReadFile(filepath.Join(dir, "nested", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "bye", string(data))

	tests := []struct {
		id      string
		wantErr bool
	}{
		{id: "../escape.txt", wantErr: true},
		{id: "nested/../../escape.txt", wantErr: true},
		{id: "/abs.txt", wantErr: true},
		{id: "nested/../fine.txt"},
	}
	for _, tt := range tests {
		err := p.Process(context.Background(), descriptor(tt.id), payload)
		if tt.wantErr {
			assert.Error(t, err, tt.id)
		} else {
			assert.NoError(t, err, tt.id)
		}
	}
}

func TestCopy_CurrentDirTarget(t *testing.T) {
	t.Chdir(t.TempDir())

	p, err := NewCopy[ext](context.Background(), "copy", map[string]string{"dir": "."})
	require.NoError(t, err)

	require.NoError(t, p.Process(context.Background(), descriptor("a.txt"), resource.NewPayload([]byte("here"), "")))
	require.NoError(t, p.Process(context.Background(), descriptor("sub/b.txt"), resource.NewPayload([]byte("there"), "")))

	data, err := os.ReadFile("a.txt")
	require.NoError(t, err)
	assert.Equal(t, "here", string(data))
	data, err = os.ReadFile(filepath.Join("sub", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "there", string(data))
}

type fakePutter struct {
	inputs []*s3.PutObjectInput
	bodies []string
	err    error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, _ := io.ReadAll(in.Body)
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, string(body))
	return &s3.PutObjectOutput{}, nil
}

func TestS3(t *testing.T) {
	client := &fakePutter{}
	p := NewS3WithClient[ext](client, "archive", "tenant-a")

	payload := resource.NewPayload([]byte(`{"k":1}`), "application/json")
	require.NoError(t, p.Process(context.Background(), descriptor("docs/1.json"), payload))

	require.Len(t, client.inputs, 1)
	in := client.inputs[0]
	assert.Equal(t, "archive", aws.ToString(in.Bucket))
	assert.Equal(t, "tenant-a/docs/1.json", aws.ToString(in.Key))
	assert.Equal(t, "application/json", aws.ToString(in.ContentType))
	assert.Equal(t, payload.Checksum().String(), in.Metadata["checksum"])
	assert.Equal(t, `{"k":1}`, client.bodies[0])

	client.err = errors.New("access denied")
	assert.Error(t, p.Process(context.Background(), descriptor("docs/2.json"), payload))
}
