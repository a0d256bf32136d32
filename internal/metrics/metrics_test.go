package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"searchpulse/internal/types"
)

type fakeCloudWatchClient struct {
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (c *fakeCloudWatchClient) PutMetricData(_ context.Context, in *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	c.inputs = append(c.inputs, in)
	if c.err != nil {
		return nil, c.err
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func testSummary() *types.RunSummary {
	return &types.RunSummary{
		Provider: types.ProviderSearch,
		Tenants:  3,
		Complete: 1,
		Partial:  1,
		Skipped:  1,
		Results: []*types.TenantRunResult{
			{GranularWritten: 100, AggregateWritten: 10, ChunksFailed: 0},
			{GranularWritten: 40, AggregateWritten: 5, ChunksFailed: 2},
		},
		Duration: 90 * time.Second,
	}
}

func datumValue(t *testing.T, data []cwtypes.MetricDatum, name string) float64 {
	t.Helper()
	for _, d := range data {
		if aws.ToString(d.MetricName) == name {
			return aws.ToFloat64(d.Value)
		}
	}
	t.Fatalf("metric %s not emitted", name)
	return 0
}

func TestCloudWatchEmitter_EmitRun(t *testing.T) {
	client := &fakeCloudWatchClient{}
	emitter := NewCloudWatchEmitter(CloudWatchEmitterConfig{Client: client, Namespace: "TestNS"})

	emitter.EmitRun(context.Background(), testSummary())

	require.Len(t, client.inputs, 1)
	in := client.inputs[0]
	assert.Equal(t, "TestNS", aws.ToString(in.Namespace))
	require.Len(t, in.MetricData, 7)

	assert.Equal(t, 1.0, datumValue(t, in.MetricData, "TenantsComplete"))
	assert.Equal(t, 1.0, datumValue(t, in.MetricData, "TenantsPartial"))
	assert.Equal(t, 1.0, datumValue(t, in.MetricData, "TenantsSkipped"))
	assert.Equal(t, 140.0, datumValue(t, in.MetricData, "GranularRowsWritten"))
	assert.Equal(t, 15.0, datumValue(t, in.MetricData, "AggregateRowsWritten"))
	assert.Equal(t, 2.0, datumValue(t, in.MetricData, "ChunksFailed"))
	assert.Equal(t, 90.0, datumValue(t, in.MetricData, "RunDuration"))

	for _, d := range in.MetricData {
		require.Len(t, d.Dimensions, 1)
		assert.Equal(t, "Provider", aws.ToString(d.Dimensions[0].Name))
		assert.Equal(t, "search", aws.ToString(d.Dimensions[0].Value))
	}
}

func TestCloudWatchEmitter_DefaultNamespace(t *testing.T) {
	client := &fakeCloudWatchClient{}
	emitter := NewCloudWatchEmitter(CloudWatchEmitterConfig{Client: client})

	emitter.EmitRun(context.Background(), testSummary())
	require.Len(t, client.inputs, 1)
	assert.Equal(t, "SearchPulse", aws.ToString(client.inputs[0].Namespace))
}

func TestCloudWatchEmitter_FailureIsSwallowed(t *testing.T) {
	client := &fakeCloudWatchClient{err: errors.New("throttled")}
	emitter := NewCloudWatchEmitter(CloudWatchEmitterConfig{Client: client})

	assert.NotPanics(t, func() {
		emitter.EmitRun(context.Background(), testSummary())
	})
}
