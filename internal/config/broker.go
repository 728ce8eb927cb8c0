package config

import "os"

// BrokerConfig selects the fan-out transports.  An empty AMQPURL keeps
// fan-out in-process (single replica); an empty MQTTURL disables the device
// push sink.
type BrokerConfig struct {
    AMQPURL      string
    Exchange     string
    MQTTURL      string
    MQTTClientID string
    MQTTTopic    string // prefix, the city slug is appended
}

// LoadBrokerConfig reads RABBITMQ_URL (or AMQP_URL) and MQTT_* variables.
func LoadBrokerConfig() BrokerConfig {
    url := os.Getenv("RABBITMQ_URL")
    if url == "" {
        url = os.Getenv("AMQP_URL")
    }
    host, _ := os.Hostname()
    return BrokerConfig{
        AMQPURL:      url,
        Exchange:     envStr("SIGNALS_EXCHANGE", "signals"),
        MQTTURL:      os.Getenv("MQTT_BROKER_URL"),
        MQTTClientID: envStr("MQTT_CLIENT_ID", "beacon-engine-"+host),
        MQTTTopic:    envStr("MQTT_TOPIC_PREFIX", "signals"),
    }
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
    Enabled     bool
    Endpoint    string
    ServiceName string
    Environment string
}

func LoadTracingConfig(env string) TracingConfig {
    return TracingConfig{
        Enabled:     envBool("TRACING_ENABLED", false),
        Endpoint:    envStr("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
        ServiceName: envStr("TRACING_SERVICE_NAME", "beacon-signal-engine"),
        Environment: env,
    }
}
