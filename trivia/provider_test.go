package trivia

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/triviaserver/models"
)

// fakeOpenTDB serves canned Open Trivia DB replies and records the queries it saw.
type fakeOpenTDB struct {
	mutex   sync.Mutex
	queries []string
	code    int
	perCall int // results returned per call; -1 echoes the requested amount
}

func (f *fakeOpenTDB) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api_category.php", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"trivia_categories":[{"id":9,"name":"General Knowledge"},{"id":18,"name":"Science: Computers"}]}`)
	})
	mux.HandleFunc("/api.php", func(w http.ResponseWriter, r *http.Request) {
		f.mutex.Lock()
		f.queries = append(f.queries, r.URL.RawQuery)
		f.mutex.Unlock()

		q := r.URL.Query()
		assert.Equal(t, "multiple", q.Get("type"))
		assert.Equal(t, "url3986", q.Get("encode"))

		n := f.perCall
		if n < 0 {
			fmt.Sscan(q.Get("amount"), &n)
		}
		fmt.Fprintf(w, `{"response_code":%d,"results":[`, f.code)
		for i := 0; i < n; i++ {
			if i > 0 {
				fmt.Fprint(w, ",")
			}
			fmt.Fprintf(w, `{"type":"multiple","difficulty":"easy","category":"General%%20Knowledge",`+
				`"question":"What%%20is%%20%s-%d%%3F","correct_answer":"Yes","incorrect_answers":["No","Maybe","Never"]}`,
				q.Get("category"), i)
		}
		fmt.Fprint(w, "]}")
	})
	return mux
}

func newTestClient(t *testing.T, fake *fakeOpenTDB) *OpenTDB {
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)
	return NewOpenTDB(srv.URL, time.Second, 0)
}

func TestOpenTDB_FetchCategories(t *testing.T) {
	client := newTestClient(t, &fakeOpenTDB{})

	categories, err := client.FetchCategories(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.Category{{ID: 9, Name: "General Knowledge"}, {ID: 18, Name: "Science: Computers"}}, categories)
}

func TestOpenTDB_FetchQuestions(t *testing.T) {
	fake := &fakeOpenTDB{perCall: -1}
	client := newTestClient(t, fake)

	questions, err := client.FetchQuestions(context.Background(), models.Settings{Amount: 3, Difficulty: "easy"})
	require.NoError(t, err)
	require.Len(t, questions, 3)

	q := questions[0]
	assert.Equal(t, "What is -0?", q.Prompt)
	assert.Equal(t, "Yes", q.CorrectAnswer)
	assert.Equal(t, []string{"No", "Maybe", "Never"}, q.DistractorAnswers)
	assert.Equal(t, "General Knowledge", q.Category)
	assert.Contains(t, fake.queries[0], "difficulty=easy")
}

func TestOpenTDB_SplitsAmountAcrossCategories(t *testing.T) {
	fake := &fakeOpenTDB{perCall: -1}
	client := newTestClient(t, fake)

	questions, err := client.FetchQuestions(context.Background(), models.Settings{Amount: 5, Categories: []int{9, 18}})
	require.NoError(t, err)
	assert.Len(t, questions, 5)
	require.Len(t, fake.queries, 2)
	assert.Contains(t, fake.queries[0], "amount=3")
	assert.Contains(t, fake.queries[0], "category=9")
	assert.Contains(t, fake.queries[1], "amount=2")
	assert.Contains(t, fake.queries[1], "category=18")
}

func TestOpenTDB_ShortageIsNotAnError(t *testing.T) {
	client := newTestClient(t, &fakeOpenTDB{perCall: 6})

	questions, err := client.FetchQuestions(context.Background(), models.Settings{Amount: 10})
	require.NoError(t, err)
	assert.Len(t, questions, 6)

	client = newTestClient(t, &fakeOpenTDB{code: codeNoResults})
	questions, err = client.FetchQuestions(context.Background(), models.Settings{Amount: 10})
	require.NoError(t, err)
	assert.Empty(t, questions)
}

func TestOpenTDB_RateLimited(t *testing.T) {
	client := newTestClient(t, &fakeOpenTDB{code: codeRateLimited})

	_, err := client.FetchQuestions(context.Background(), models.Settings{Amount: 1})
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestOpenTDB_PacesRequests(t *testing.T) {
	const window = 100 * time.Millisecond

	// the fake answers code 5 to anything inside the window, like the real API
	var (
		mutex sync.Mutex
		last  time.Time
	)
	fake := &fakeOpenTDB{perCall: -1}
	inner := fake.handler(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api.php" {
			mutex.Lock()
			tooSoon := !last.IsZero() && time.Since(last) < window
			last = time.Now()
			mutex.Unlock()
			if tooSoon {
				fmt.Fprintf(w, `{"response_code":%d,"results":[]}`, codeRateLimited)
				return
			}
		}
		inner.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	settings := models.Settings{Amount: 4, Categories: []int{9, 18}}

	unpaced := NewOpenTDB(srv.URL, time.Second, 0)
	_, err := unpaced.FetchQuestions(context.Background(), settings)
	assert.ErrorIs(t, err, ErrRateLimited)

	time.Sleep(window)
	paced := NewOpenTDB(srv.URL, time.Second, 2*window)
	start := time.Now()
	questions, err := paced.FetchQuestions(context.Background(), settings)
	require.NoError(t, err)
	assert.Len(t, questions, 4)
	assert.GreaterOrEqual(t, time.Since(start), window)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = paced.FetchQuestions(ctx, settings)
	assert.Error(t, err, "waiting for a slot honours the context")
}

func TestSplitAmount(t *testing.T) {
	assert.Equal(t, []batch{{amount: 4}}, splitAmount(4, nil))
	assert.Equal(t, []batch{{category: 1, amount: 1}, {category: 2, amount: 1}}, splitAmount(2, []int{1, 2, 3}))
}

func TestAssemble_FixesOptionOrder(t *testing.T) {
	in := []models.Question{{
		Prompt:            "2+2?",
		CorrectAnswer:     "4",
		DistractorAnswers: []string{"3", "5", "22"},
	}}

	reverse := func(n int, swap func(i, j int)) {
		for i := 0; i < n/2; i++ {
			swap(i, n-1-i)
		}
	}
	out := Assemble(in, reverse)

	require.Len(t, out, 1)
	assert.Equal(t, []string{"22", "5", "3", "4"}, out[0].Options)
	assert.Equal(t, []string{"3", "5", "22"}, out[0].DistractorAnswers)
	assert.Nil(t, in[0].Options, "input must not be modified")

	random := Assemble(in, nil)
	assert.ElementsMatch(t, []string{"4", "3", "5", "22"}, random[0].Options)
}
