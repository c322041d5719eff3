package knowledge

import "context"

// Passage is one scored chunk of clinic documentation returned by a query.
type Passage struct {
	Content string
	Source  string
	Score   float64
}

// Retriever answers free-text questions with the most relevant passages.
// An empty result (nil error) means nothing useful was found; callers fall
// back to a generic reply rather than failing the conversation.
type Retriever interface {
	Query(ctx context.Context, text string, topK int) ([]Passage, error)
}

// Ingestor describes how clinic documents enter the store.
type Ingestor interface {
	AddDocuments(ctx context.Context, source string, contents []string) error
}
