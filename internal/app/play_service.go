package app

import (
	"context"
	"time"

	"livequiz-service/internal/domain"
)

// PlayService contains the in-quiz use cases once a session is live: joining
// the run, scoring answers, and streaming leaderboard updates.
type PlayService struct {
	runs    RunRegistry
	store   SessionStore
	quizzes QuizRepository
	now     func() time.Time
}

func NewPlayService(runs RunRegistry, store SessionStore, quizzes QuizRepository) *PlayService {
	return &PlayService{runs: runs, store: store, quizzes: quizzes, now: time.Now}
}

// Join registers or refreshes a participant in a session's live run. The
// session must exist and be effectively live.
func (s *PlayService) Join(ctx context.Context, sessionID, userID, displayName string) (domain.Leaderboard, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	switch ComputePhase(session, s.now()) {
	case domain.PhaseLive:
		// proceed
	case domain.PhaseEnded:
		return domain.Leaderboard{}, domain.ErrSessionEnded
	default:
		return domain.Leaderboard{}, domain.ErrSessionNotWaiting
	}

	// Preload quiz content; players cannot join a run whose quiz is missing.
	if _, err := s.quizzes.GetQuiz(ctx, session.QuizID); err != nil {
		return domain.Leaderboard{}, err
	}

	run := s.runs.GetOrCreate(sessionID)
	return run.join(userID, displayName), nil
}

// SubmitAnswer normalizes and scores an answer, then updates the leaderboard.
// Returns (leaderboard, totalScore, awarded, correct).
func (s *PlayService) SubmitAnswer(ctx context.Context, sessionID, userID string, submission domain.AnswerSubmission) (domain.Leaderboard, int, int, bool, error) {
	run, ok := s.runs.Get(sessionID)
	if !ok {
		return domain.Leaderboard{}, 0, 0, false, domain.ErrSessionNotFound
	}

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Leaderboard{}, 0, 0, false, err
	}
	quiz, err := s.quizzes.GetQuiz(ctx, session.QuizID)
	if err != nil {
		return domain.Leaderboard{}, 0, 0, false, err
	}

	correct, points, err := scoreSubmission(quiz, submission)
	if err != nil {
		return domain.Leaderboard{}, 0, 0, false, err
	}

	lb, total, err := run.applyScore(userID, correct, points)
	awarded := 0
	if correct {
		if points > 0 {
			awarded = points
		} else {
			awarded = 1
		}
	}
	return lb, total, awarded, correct, err
}

// Subscribe returns a channel that receives leaderboard updates for a run.
// The caller must invoke the returned cancel function to avoid leaks.
func (s *PlayService) Subscribe(_ context.Context, sessionID string) (<-chan domain.Leaderboard, func(), error) {
	run, ok := s.runs.Get(sessionID)
	if !ok {
		return nil, nil, domain.ErrSessionNotFound
	}
	ch, cancel := run.subscribe()
	return ch, cancel, nil
}

// Leave removes a participant and drops the run if it became empty.
func (s *PlayService) Leave(_ context.Context, sessionID, userID string) {
	run, ok := s.runs.Get(sessionID)
	if !ok {
		return
	}
	run.leave(userID)
	if run.IsEmpty() {
		s.runs.DeleteIfEmpty(sessionID)
	}
}

// scoreSubmission validates the answer against quiz content through the one
// canonical normalization path and returns (correct, points).
func scoreSubmission(quiz domain.Quiz, submission domain.AnswerSubmission) (bool, int, error) {
	var question *domain.Question
	for i := range quiz.Questions {
		if quiz.Questions[i].ID == submission.QuestionID {
			question = &quiz.Questions[i]
			break
		}
	}
	if question == nil {
		return false, 0, domain.ErrQuestionNotFound
	}

	selected := domain.MatchOption(*question, submission.Answer)
	if selected == nil {
		return false, 0, nil
	}

	points := question.Points
	if points == 0 {
		points = 1
	}
	if selected.Correct {
		return true, points, nil
	}
	return false, 0, nil
}
