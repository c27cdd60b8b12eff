package trivia

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/wfunc/triviaserver/logger"
	"github.com/wfunc/triviaserver/models"
)

// Provider supplies trivia questions. FetchQuestions is best-effort and may
// return fewer questions than requested.
type Provider interface {
	FetchCategories(ctx context.Context) ([]models.Category, error)
	FetchQuestions(ctx context.Context, settings models.Settings) ([]models.Question, error)
}

// Open Trivia DB response codes.
const (
	codeSuccess     = 0
	codeNoResults   = 1
	codeInvalid     = 2
	codeRateLimited = 5
)

var (
	ErrRateLimited     = errors.New("trivia provider rate limited")
	ErrInvalidRequest  = errors.New("trivia provider rejected the request")
	ErrUnexpectedReply = errors.New("unexpected trivia provider reply")
)

// OpenTDB is a client for the Open Trivia Database HTTP API. Question
// requests are paced to one per interval across all callers.
type OpenTDB struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewOpenTDB returns a client for baseURL. An interval of zero disables
// pacing.
func NewOpenTDB(baseURL string, timeout, interval time.Duration) *OpenTDB {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &OpenTDB{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, 1),
	}
}

type categoriesResponse struct {
	TriviaCategories []models.Category `json:"trivia_categories"`
}

type questionsResponse struct {
	ResponseCode int `json:"response_code"`
	Results      []struct {
		Type             string   `json:"type"`
		Difficulty       string   `json:"difficulty"`
		Category         string   `json:"category"`
		Question         string   `json:"question"`
		CorrectAnswer    string   `json:"correct_answer"`
		IncorrectAnswers []string `json:"incorrect_answers"`
	} `json:"results"`
}

func (o *OpenTDB) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := o.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d from %s", ErrUnexpectedReply, resp.StatusCode, path)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (o *OpenTDB) FetchCategories(ctx context.Context) ([]models.Category, error) {
	var resp categoriesResponse
	if err := o.getJSON(ctx, "/api_category.php", nil, &resp); err != nil {
		return nil, err
	}
	return resp.TriviaCategories, nil
}

// FetchQuestions asks for settings.Amount multiple-choice questions. With
// several categories the amount is split between them, one request each.
func (o *OpenTDB) FetchQuestions(ctx context.Context, settings models.Settings) ([]models.Question, error) {
	if settings.Amount <= 0 {
		return nil, nil
	}

	var questions []models.Question
	seen := make(map[string]struct{})
	for _, batch := range splitAmount(settings.Amount, settings.Categories) {
		fetched, err := o.fetchBatch(ctx, batch.amount, batch.category, settings.Difficulty)
		if err != nil {
			return nil, err
		}
		for _, q := range fetched {
			if _, dup := seen[q.Prompt]; dup {
				continue
			}
			seen[q.Prompt] = struct{}{}
			questions = append(questions, q)
		}
	}

	if len(settings.Categories) > 1 {
		rand.Shuffle(len(questions), func(i, j int) {
			questions[i], questions[j] = questions[j], questions[i]
		})
	}
	if len(questions) < settings.Amount {
		logger.Log.Infow("Question provider returned fewer questions than requested",
			"requested", settings.Amount, "received", len(questions))
	}
	return questions, nil
}

type batch struct {
	category int // 0 means any
	amount   int
}

// splitAmount spreads amount over categories, giving the remainder to the
// first ones. Categories that would get nothing are skipped.
func splitAmount(amount int, categories []int) []batch {
	if len(categories) == 0 {
		return []batch{{amount: amount}}
	}
	per, rest := amount/len(categories), amount%len(categories)
	batches := make([]batch, 0, len(categories))
	for i, c := range categories {
		n := per
		if i < rest {
			n++
		}
		if n > 0 {
			batches = append(batches, batch{category: c, amount: n})
		}
	}
	return batches
}

func (o *OpenTDB) fetchBatch(ctx context.Context, amount, category int, difficulty string) ([]models.Question, error) {
	query := url.Values{}
	query.Set("amount", strconv.Itoa(amount))
	query.Set("type", "multiple")
	query.Set("encode", "url3986")
	if category > 0 {
		query.Set("category", strconv.Itoa(category))
	}
	if difficulty != "" && difficulty != "any" {
		query.Set("difficulty", difficulty)
	}

	if err := o.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var resp questionsResponse
	if err := o.getJSON(ctx, "/api.php", query, &resp); err != nil {
		return nil, err
	}

	switch resp.ResponseCode {
	case codeSuccess:
	case codeNoResults:
		// Not enough questions for the filter: the caller checks the count.
		return nil, nil
	case codeRateLimited:
		return nil, ErrRateLimited
	case codeInvalid:
		return nil, ErrInvalidRequest
	default:
		return nil, fmt.Errorf("%w: response code %d", ErrUnexpectedReply, resp.ResponseCode)
	}

	questions := make([]models.Question, 0, len(resp.Results))
	for _, r := range resp.Results {
		q := models.Question{
			Prompt:        decode(r.Question),
			CorrectAnswer: decode(r.CorrectAnswer),
			Category:      decode(r.Category),
			Difficulty:    decode(r.Difficulty),
		}
		for _, wrong := range r.IncorrectAnswers {
			q.DistractorAnswers = append(q.DistractorAnswers, decode(wrong))
		}
		if q.Prompt == "" || q.CorrectAnswer == "" || len(q.DistractorAnswers) == 0 {
			continue
		}
		questions = append(questions, q)
	}
	return questions, nil
}

// decode undoes the RFC 3986 encoding requested from the API.
func decode(s string) string {
	out, err := url.PathUnescape(s)
	if err != nil {
		return s
	}
	return out
}
