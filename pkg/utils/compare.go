package utils

import (
	"github.com/nats-io/nats.go"
)

// StreamConfigEqual compares two NATS stream configurations for equality.
// Only the properties the relay stream actually pins are compared.
func StreamConfigEqual(a, b nats.StreamConfig) bool {
	if a.Name != b.Name ||
		a.Retention != b.Retention ||
		a.MaxMsgs != b.MaxMsgs ||
		a.MaxAge != b.MaxAge ||
		a.Storage != b.Storage {
		return false
	}
	return stringSlicesEqual(a.Subjects, b.Subjects)
}

// ConsumerConfigEqual compares two NATS consumer configurations for equality.
// Only the properties the relay consumer actually pins are compared.
func ConsumerConfigEqual(a, b nats.ConsumerConfig) bool {
	if a.Durable != b.Durable ||
		a.DeliverGroup != b.DeliverGroup ||
		a.AckPolicy != b.AckPolicy ||
		a.MaxDeliver != b.MaxDeliver {
		return false
	}
	return stringSlicesEqual(a.FilterSubjects, b.FilterSubjects)
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
