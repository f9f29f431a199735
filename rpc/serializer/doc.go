// Package serializer provides message serialization for the node-to-node
// plane. It defines a common interface and multiple implementations for
// serializing and deserializing protocol messages.
//
// The package focuses on:
//   - Providing a consistent interface for different serialization formats
//   - Offering multiple implementations with different performance characteristics
//   - Supporting efficient encoding of the system's message structure
//   - Minimizing memory allocations and processing overhead
//
// Key Components:
//
//   - IRPCSerializer: Core interface that all serializer implementations must satisfy.
//
//   - binarySerializerImpl: Custom binary format implementation optimized for speed
//     and space efficiency. Uses a flag-based approach to encode only present fields,
//     resulting in compact serialized data with minimal overhead. The migration
//     stream uses this format.
//
//   - jsonSerializerImpl: Implementation using JSON encoding, useful for debugging
//     or interoperability with other systems, but with lower performance.
//
//   - s2SerializerImpl: Decorator that compresses the encoded frame when it
//     exceeds a size threshold. Large restore payloads compress well, small
//     handshake and journal frames pass through untouched.
//
// Thread Safety:
//
//	All serializer implementations are stateless and safe for concurrent use
//	across multiple goroutines without additional synchronization.
//
// Usage:
//
//	Serializers are typically created once and reused throughout the application:
//
//	  s := serializer.NewS2Serializer(serializer.NewBinarySerializer(), 0)
//	  data, err := s.Serialize(message)
//	  // ... send data ...
//	  var receivedMsg common.Message
//	  err = s.Deserialize(receivedData, &receivedMsg)
package serializer
