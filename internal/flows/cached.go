package flows

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yoockh/anamnesi/internal/analysis"
	"github.com/yoockh/anamnesi/internal/cache"
	"github.com/yoockh/anamnesi/internal/models"
)

// Cached memoizes flow results by input hash, so re-analyzing an unchanged
// transcript or re-formatting the same interview costs no model call.
// Cache failures degrade to a direct call.
type Cached struct {
	Extractor analysis.Extractor
	Suggester analysis.Suggester
	Formatter analysis.Formatter

	Cache  cache.Cache
	TTL    time.Duration
	Logger *logrus.Logger
}

func (c *Cached) IdentifyQuestionsAndAnswers(ctx context.Context, transcription string) ([]models.QAPair, error) {
	return memo(ctx, c, "extract", transcription, func() ([]models.QAPair, error) {
		return c.Extractor.IdentifyQuestionsAndAnswers(ctx, transcription)
	})
}

func (c *Cached) SuggestAdditionalQuestions(ctx context.Context, in analysis.SuggestionInput) ([]string, error) {
	return memo(ctx, c, "suggest", in, func() ([]string, error) {
		return c.Suggester.SuggestAdditionalQuestions(ctx, in)
	})
}

func (c *Cached) FormatMedicalDocument(ctx context.Context, interviewData string) (string, error) {
	return memo(ctx, c, "format", interviewData, func() (string, error) {
		return c.Formatter.FormatMedicalDocument(ctx, interviewData)
	})
}

func memo[T any](ctx context.Context, c *Cached, flow string, input any, call func() (T, error)) (T, error) {
	key, err := cacheKey(flow, input)
	if err != nil || c.Cache == nil {
		return call()
	}

	var hit T
	if ok, err := c.Cache.GetJSON(ctx, key, &hit); err != nil {
		c.logger().WithError(err).WithField("flow", flow).Warn("flow cache read failed")
	} else if ok {
		return hit, nil
	}

	out, err := call()
	if err != nil {
		return out, err
	}
	ttl := c.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	if err := c.Cache.SetJSON(ctx, key, out, ttl); err != nil {
		c.logger().WithError(err).WithField("flow", flow).Warn("flow cache write failed")
	}
	return out, nil
}

func cacheKey(flow string, input any) (string, error) {
	b, err := json.Marshal(input)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return "flow:" + flow + ":" + hex.EncodeToString(sum[:]), nil
}

func (c *Cached) logger() *logrus.Logger {
	if c.Logger == nil {
		return logrus.StandardLogger()
	}
	return c.Logger
}
