package queue

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// ErrLocked is returned when another owner holds the job lock.
var ErrLocked = errors.New("job already has a run in flight")

// JobLock is a TTL-bounded mutex per job name.
type JobLock struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewJobLock(client *redis.Client, ttl time.Duration) *JobLock {
	if ttl == 0 {
		ttl = 15 * time.Minute
	}
	return &JobLock{client: client, prefix: "corpus:lock:", ttl: ttl}
}

func (l *JobLock) key(jobName string) string {
	return l.prefix + jobName
}

// Acquire takes the lock for jobName on behalf of owner.
func (l *JobLock) Acquire(ctx context.Context, jobName, owner string) error {
	ok, err := l.client.SetNX(ctx, l.key(jobName), owner, l.ttl).Result()
	if err != nil {
		return errors.Wrap(err, "acquire job lock")
	}
	if !ok {
		holder, _ := l.client.Get(ctx, l.key(jobName)).Result()
		return errors.Wrapf(ErrLocked, "%s held by %s", jobName, holder)
	}
	return nil
}

// Refresh extends the lock TTL if owner still holds it.
func (l *JobLock) Refresh(ctx context.Context, jobName, owner string) error {
	n, err := refreshScript.Run(ctx, l.client, []string{l.key(jobName)}, owner, l.ttl.Milliseconds()).Int()
	if err != nil {
		return errors.Wrap(err, "refresh job lock")
	}
	if n == 0 {
		return errors.Wrapf(ErrLocked, "%s no longer held by %s", jobName, owner)
	}
	return nil
}

// Release drops the lock if owner still holds it.
func (l *JobLock) Release(ctx context.Context, jobName, owner string) error {
	return errors.Wrap(releaseScript.Run(ctx, l.client, []string{l.key(jobName)}, owner).Err(), "release job lock")
}

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

var refreshScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)
