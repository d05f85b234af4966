// Package ai holds small, game-independent math helpers used by the network
// evaluators.
package ai

import "github.com/chewxy/math32"

// WinGameScore for the winning side. For the losing side it is -WinGameScore.
// These are +1 and -1, so it's easy to put a tanh(x) on the output of a model to get
// a value from +1 to -1.
const WinGameScore = float32(1)

// SquashScore converts any score to a value between +WinGameScore and -WinGameScore
// using tanh(x).
func SquashScore(x float32) float32 {
	return math32.Tanh(x) * WinGameScore
}

// Softmax normalizes logits into a probability distribution, in place.
func Softmax(logits []float32) {
	if len(logits) == 0 {
		return
	}
	max := logits[0]
	for _, v := range logits[1:] {
		if v > max {
			max = v
		}
	}
	var sum float32
	for i, v := range logits {
		e := math32.Exp(v - max)
		logits[i] = e
		sum += e
	}
	if sum == 0 {
		return
	}
	for i := range logits {
		logits[i] /= sum
	}
}

// OneHotEncoding returns a slice of float32 with one element set to 1, and all others to 0.
func OneHotEncoding(total, selected int) (vec []float32) {
	vec = make([]float32, total)
	if total > 0 {
		vec[selected] = 1
	}
	return
}
