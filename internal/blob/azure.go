package blob

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	azblobblob "github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	pkgerrors "github.com/pkg/errors"
)

// AzureStore keeps blobs in one Azure Storage container.
type AzureStore struct {
	client    *azblob.Client
	container string
}

type AzureConfig struct {
	ServiceURL string
	Account    string
	Key        string
	Container  string
}

// NewAzureStore builds a shared-key client for cfg.
func NewAzureStore(cfg AzureConfig) (*AzureStore, error) {
	cred, err := azblob.NewSharedKeyCredential(cfg.Account, cfg.Key)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "azure shared key credential")
	}
	client, err := azblob.NewClientWithSharedKeyCredential(cfg.ServiceURL, cred, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "azure blob client")
	}
	return &AzureStore{client: client, container: cfg.Container}, nil
}

// EnsureContainer creates the container when it does not exist yet.
func (s *AzureStore) EnsureContainer(ctx context.Context) error {
	_, err := s.client.CreateContainer(ctx, s.container, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return pkgerrors.Wrapf(err, "create container %s", s.container)
	}
	return nil
}

func (s *AzureStore) Put(ctx context.Context, name string, r io.Reader, contentType string) (string, error) {
	var opts *azblob.UploadStreamOptions
	if contentType != "" {
		opts = &azblob.UploadStreamOptions{
			HTTPHeaders: &azblobblob.HTTPHeaders{BlobContentType: to.Ptr(contentType)},
		}
	}
	if _, err := s.client.UploadStream(ctx, s.container, name, r, opts); err != nil {
		return "", pkgerrors.Wrapf(err, "upload blob %s", name)
	}
	return strings.TrimRight(s.client.URL(), "/") + "/" + s.container + "/" + url.PathEscape(name), nil
}

func (s *AzureStore) Get(ctx context.Context, path string) (Object, error) {
	name, err := url.PathUnescape(nameFromPath(path))
	if err != nil {
		return Object{}, err
	}
	resp, err := s.client.DownloadStream(ctx, s.container, name, nil)
	if err != nil {
		if isNotFound(err) {
			return Object{}, ErrNotFound
		}
		return Object{}, pkgerrors.Wrapf(err, "download blob %s", name)
	}
	obj := Object{Body: resp.Body}
	if resp.ContentLength != nil {
		obj.Size = *resp.ContentLength
	}
	if resp.ContentType != nil {
		obj.ContentType = *resp.ContentType
	}
	return obj, nil
}

func (s *AzureStore) Delete(ctx context.Context, path string) error {
	name, err := url.PathUnescape(nameFromPath(path))
	if err != nil {
		return err
	}
	if _, err := s.client.DeleteBlob(ctx, s.container, name, nil); err != nil {
		if isNotFound(err) {
			return ErrNotFound
		}
		return pkgerrors.Wrapf(err, "delete blob %s", name)
	}
	return nil
}

func isNotFound(err error) bool {
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return true
	}
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}
