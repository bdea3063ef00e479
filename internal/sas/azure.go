package sas

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/Azure/azure-storage-blob-go/azblob"
)

// maxListResults bounds a single listing segment; enumeration continues
// through the marker until the container is exhausted.
const maxListResults = 5000

// BlobService is the production DelegationKeySource and Lister, backed by the
// storage account's blob endpoint with an identity credential.
type BlobService struct {
	service azblob.ServiceURL
}

// NewBlobService builds a BlobService from the account blob endpoint and a
// resolved token credential.
func NewBlobService(endpoint string, credential azblob.TokenCredential) (*BlobService, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("sas: invalid blob endpoint %q: %w", endpoint, err)
	}
	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{
		Retry: azblob.RetryOptions{TryTimeout: upstreamTimeout},
	})
	return &BlobService{service: azblob.NewServiceURL(*u, pipeline)}, nil
}

// DelegationKey requests a user delegation key scoped to [start, expiry] and
// wraps it in a signing credential. The identity behind the pipeline must
// hold the generateUserDelegationKey capability on the account.
func (b *BlobService) DelegationKey(ctx context.Context, start, expiry time.Time) (azblob.UserDelegationCredential, error) {
	info := azblob.NewKeyInfo(start, expiry)
	udc, err := b.service.GetUserDelegationCredential(ctx, info, nil, nil)
	if err != nil {
		return azblob.UserDelegationCredential{}, fmt.Errorf("failed to obtain user delegation key: %w", err)
	}
	return udc, nil
}

// ListBlobNames enumerates every blob in the container with a flat marker
// loop.
func (b *BlobService) ListBlobNames(ctx context.Context, container string) ([]string, error) {
	containerURL := b.service.NewContainerURL(container)

	var names []string
	for marker := (azblob.Marker{}); marker.NotDone(); {
		response, err := containerURL.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{
			MaxResults: maxListResults,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list container %q: %w", container, err)
		}
		marker = response.NextMarker
		for i := range response.Segment.BlobItems {
			names = append(names, response.Segment.BlobItems[i].Name)
		}
	}
	return names, nil
}
