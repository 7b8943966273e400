// Package scoring supplies virality scores for transcript segments. The
// scheduler treats it as a black box; any implementation of Scorer works.
package scoring

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	cohere "github.com/cohere-ai/cohere-go/v2"
	cohereclient "github.com/cohere-ai/cohere-go/v2/client"
)

// Scorer produces a virality score in [0,1] for a transcript segment
type Scorer interface {
	Score(ctx context.Context, transcript string) (float64, error)
}

// Hooks that historically drove engagement; a segment's score is its best
// embedding similarity against these.
var defaultExemplars = []string{
	"you won't believe what happened next",
	"here's the one mistake everyone makes",
	"this completely changed how I think about it",
	"the secret nobody tells you about",
	"wait for the ending",
}

// Cohere scores segments by embedding similarity against exemplar hooks
type Cohere struct {
	client    *cohereclient.Client
	model     string
	exemplars [][]float64
	texts     []string
}

// NewCohereFromEnv creates a scorer when COHERE_API_KEY is set, nil otherwise
func NewCohereFromEnv() (*Cohere, error) {
	key := os.Getenv("COHERE_API_KEY")
	if key == "" {
		return nil, nil
	}
	model := os.Getenv("COHERE_EMBED_MODEL")
	if model == "" {
		model = "embed-english-v3.0"
	}

	// Force HTTP/1.1; the Cohere endpoint intermittently breaks HTTP/2 streams
	httpClient := &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			TLSNextProto:      make(map[string]func(authority string, c *tls.Conn) http.RoundTripper),
			ForceAttemptHTTP2: false,
		},
	}
	client := cohereclient.NewClient(
		cohereclient.WithToken(key),
		cohereclient.WithHTTPClient(httpClient),
	)
	return &Cohere{client: client, model: model, texts: defaultExemplars}, nil
}

// Score embeds the transcript and returns its best cosine similarity
// against the exemplar hooks, clamped to [0,1].
func (c *Cohere) Score(ctx context.Context, transcript string) (float64, error) {
	if transcript == "" {
		return 0, errors.New("empty transcript")
	}

	if c.exemplars == nil {
		vecs, err := c.embed(ctx, c.texts)
		if err != nil {
			return 0, fmt.Errorf("embed exemplars: %w", err)
		}
		c.exemplars = vecs
	}

	vecs, err := c.embed(ctx, []string{transcript})
	if err != nil {
		return 0, fmt.Errorf("embed segment: %w", err)
	}

	best := 0.0
	for _, ex := range c.exemplars {
		if s := cosine(vecs[0], ex); s > best {
			best = s
		}
	}
	return math.Max(0, math.Min(1, best)), nil
}

func (c *Cohere) embed(ctx context.Context, texts []string) ([][]float64, error) {
	resp, err := c.client.V2.Embed(ctx, &cohere.V2EmbedRequest{
		Texts:          texts,
		Model:          c.model,
		InputType:      cohere.EmbedInputTypeSearchDocument,
		EmbeddingTypes: []cohere.EmbeddingType{cohere.EmbeddingTypeFloat},
	})
	if err != nil {
		return nil, err
	}
	if resp == nil || resp.Embeddings == nil || resp.Embeddings.Float == nil {
		return nil, errors.New("embed returned no float embeddings")
	}
	if len(resp.Embeddings.Float) != len(texts) {
		return nil, errors.New("embedding count mismatch")
	}
	return resp.Embeddings.Float, nil
}

func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
