package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ExamSnapshotKey returns the cache key for a catalog exam snapshot by id.
func (r *CacheKeyStruct) ExamSnapshotKey(examID string) string {
	return fmt.Sprintf("catalog:exam:%s:snapshot", examID)
}

// ExamCodeKey returns the cache key mapping a public exam code to an exam id.
func (r *CacheKeyStruct) ExamCodeKey(code string) string {
	return fmt.Sprintf("catalog:code:%s", code)
}

// AttemptAnsweredKey returns the cache key for an attempt's answered-question
// set (progress fast path).
func (r *CacheKeyStruct) AttemptAnsweredKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:answered", attemptID)
}

// AttemptChannel returns the Redis Pub/Sub channel carrying attempt-scoped
// events to the one live student client.
func (r *CacheKeyStruct) AttemptChannel(attemptID string) string {
	return fmt.Sprintf("attempt:%s:events", attemptID)
}

// ExamChannel returns the Redis Pub/Sub channel carrying exam-scoped events
// to every teacher dashboard watching that exam.
func (r *CacheKeyStruct) ExamChannel(examID string) string {
	return fmt.Sprintf("exam:%s:events", examID)
}

var CacheKey = NewCacheKeyStruct()
