package trivia

import (
	"math/rand"

	"github.com/wfunc/triviaserver/models"
)

// Shuffler permutes n elements through swap. rand.Shuffle satisfies it.
type Shuffler func(n int, swap func(i, j int))

// Assemble fixes the option order of every question: the correct answer and
// the distractors, shuffled once. The input slice is not modified.
func Assemble(questions []models.Question, shuffle Shuffler) []models.Question {
	if shuffle == nil {
		shuffle = rand.Shuffle
	}
	out := make([]models.Question, len(questions))
	for i, q := range questions {
		options := make([]string, 0, len(q.DistractorAnswers)+1)
		options = append(options, q.CorrectAnswer)
		options = append(options, q.DistractorAnswers...)
		shuffle(len(options), func(a, b int) {
			options[a], options[b] = options[b], options[a]
		})
		q.DistractorAnswers = append([]string(nil), q.DistractorAnswers...)
		q.Options = options
		out[i] = q
	}
	return out
}
