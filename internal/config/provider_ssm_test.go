package config

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSSMClient struct {
	params  map[string]string
	invalid []string
	err     error
	batches [][]string
}

func (c *fakeSSMClient) GetParameters(_ context.Context, in *ssm.GetParametersInput, _ ...func(*ssm.Options)) (*ssm.GetParametersOutput, error) {
	c.batches = append(c.batches, in.Names)
	if c.err != nil {
		return nil, c.err
	}
	if !aws.ToBool(in.WithDecryption) {
		return nil, errors.New("expected WithDecryption=true")
	}

	out := &ssm.GetParametersOutput{}
	for _, name := range in.Names {
		if v, ok := c.params[name]; ok {
			out.Parameters = append(out.Parameters, ssmtypes.Parameter{
				Name:  aws.String(name),
				Value: aws.String(v),
			})
		}
	}
	out.InvalidParameters = append(out.InvalidParameters, c.invalid...)
	return out, nil
}

func TestSSMProvider_GetParametersBatch(t *testing.T) {
	client := &fakeSSMClient{params: map[string]string{
		"/app/db-url":     "postgres://db",
		"/app/cipher-key": "abc123",
	}}
	provider := newSSMProviderWithClient("us-east-1", client)

	got, err := provider.GetParametersBatch(context.Background(), []string{"/app/db-url", "/app/cipher-key"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"/app/db-url":     "postgres://db",
		"/app/cipher-key": "abc123",
	}, got)
}

func TestSSMProvider_SplitsLargeRequestsIntoBatches(t *testing.T) {
	params := make(map[string]string)
	var keys []string
	for i := 0; i < 23; i++ {
		key := fmt.Sprintf("/app/param-%02d", i)
		params[key] = fmt.Sprintf("value-%02d", i)
		keys = append(keys, key)
	}

	client := &fakeSSMClient{params: params}
	got, err := newSSMProviderWithClient("us-east-1", client).GetParametersBatch(context.Background(), keys)
	require.NoError(t, err)

	assert.Len(t, got, 23)
	require.Len(t, client.batches, 3)
	assert.Len(t, client.batches[0], 10)
	assert.Len(t, client.batches[1], 10)
	assert.Len(t, client.batches[2], 3)
}

func TestSSMProvider_InvalidParametersFail(t *testing.T) {
	client := &fakeSSMClient{
		params:  map[string]string{"/app/known": "v"},
		invalid: []string{"/app/missing"},
	}

	_, err := newSSMProviderWithClient("us-east-1", client).GetParametersBatch(context.Background(), []string{"/app/known", "/app/missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/app/missing")
}

func TestSSMProvider_EmptyKeysSkipsNetwork(t *testing.T) {
	client := &fakeSSMClient{}
	got, err := newSSMProviderWithClient("us-east-1", client).GetParametersBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, client.batches)
}

func TestSSMProvider_CancelledContextStopsBatching(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &fakeSSMClient{params: map[string]string{"/app/a": "v"}}
	_, err := newSSMProviderWithClient("us-east-1", client).GetParametersBatch(ctx, []string{"/app/a"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
