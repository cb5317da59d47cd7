package config

const (
	// TopicIngestDocument carries queued document ingestion runs.
	TopicIngestDocument = "ingest.document"

	// ChannelIngestWorker is the consumer channel shared by ingest workers.
	ChannelIngestWorker = "ingest-worker"
)
