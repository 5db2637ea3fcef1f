package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/godamri/helix-actionlog/entity"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKafkaSink_Name(t *testing.T) {
	sink := newKafkaSink(mocks.NewAsyncProducer(t, nil), "t", nil)
	assert.Equal(t, "kafka", sink.Name())
	require.NoError(t, sink.Close())
}

func TestKafkaSink_PublishKeysByTarget(t *testing.T) {
	producer := mocks.NewAsyncProducer(t, nil)
	rec := Record{
		ID:          uuid.New(),
		Action:      ActionCreate,
		Target:      &entity.Ref{Kind: "blog", ID: "7"},
		Description: "Created blog: Hello",
	}

	producer.ExpectInputWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, err := msg.Key.Encode()
		require.NoError(t, err)
		assert.Equal(t, "blog#7", string(key))

		value, err := msg.Value.Encode()
		require.NoError(t, err)
		var decoded Record
		require.NoError(t, json.Unmarshal(value, &decoded))
		assert.Equal(t, rec.ID, decoded.ID)
		assert.Equal(t, "actionlog.records", msg.Topic)

		headers := map[string]string{}
		for _, h := range msg.Headers {
			headers[string(h.Key)] = string(h.Value)
		}
		assert.Equal(t, "record/v1", headers[HeaderSchema])
		assert.Equal(t, "create", headers[HeaderAction])
		return nil
	})

	sink := newKafkaSink(producer, "actionlog.records", nil)
	require.NoError(t, sink.Publish(context.Background(), rec))
	require.NoError(t, sink.Close())
}

func TestKafkaSink_UntargetedHasNoKey(t *testing.T) {
	producer := mocks.NewAsyncProducer(t, nil)
	producer.ExpectInputWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		assert.Nil(t, msg.Key)
		return nil
	})

	sink := newKafkaSink(producer, "", nil)
	require.NoError(t, sink.Publish(context.Background(), Record{ID: uuid.New(), Action: ActionLogin}))
	require.NoError(t, sink.Close())
}

func TestKafkaSink_DeliveryFailureIsCounted(t *testing.T) {
	producer := mocks.NewAsyncProducer(t, nil)
	producer.ExpectInputAndFail(sarama.ErrOutOfBrokers)

	before := testutil.ToFloat64(sinkFailures.WithLabelValues("kafka"))
	sink := newKafkaSink(producer, "t", nil)
	require.NoError(t, sink.Publish(context.Background(), Record{ID: uuid.New(), Action: ActionLogin}))
	require.NoError(t, sink.Close())

	assert.Equal(t, before+1, testutil.ToFloat64(sinkFailures.WithLabelValues("kafka")))
}

func TestProducerConfig(t *testing.T) {
	sc := producerConfig(Config{KafkaAcks: "all", KafkaCompression: "zstd", KafkaFlushEvery: time.Second})
	assert.Equal(t, sarama.WaitForAll, sc.Producer.RequiredAcks)
	assert.Equal(t, sarama.CompressionZSTD, sc.Producer.Compression)
	assert.Equal(t, time.Second, sc.Producer.Flush.Frequency)
	assert.True(t, sc.Producer.Return.Errors)
	require.NoError(t, sc.Validate())
}
