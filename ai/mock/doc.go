// Package mock provides test double implementations of AI service interfaces.
//
// This package contains mock implementations of ai.Embedder, ai.Completer,
// ai.QueryRewriter and ai.AIProvider for use in unit tests. The mocks allow tests
// to run without external AI service dependencies and enable controlled,
// deterministic behavior.
//
// # Usage in Tests
//
//	// Basic usage with default behavior
//	mockProvider := mock.NewMockProvider()
//	vector, err := mockProvider.Embedder().EmbedText(ctx, "test")
//
//	// Custom behavior injection
//	completer := mock.NewMockCompleter()
//	completer.CompleteFunc = func(ctx context.Context, msgs []ai.ChatMessage) (string, error) {
//	    return "Revenue grew 23% [p. 5].", nil
//	}
//
// # Default Behavior
//
//   - MockEmbedder: Returns deterministic vectors based on the words in the text
//   - MockCompleter: Echoes a fixed answer
//   - MockProvider: Aggregates mock embedder and completer
package mock
