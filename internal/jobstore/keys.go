package jobstore

import "fmt"

// Key layout: every Redis key is namespaced under the deployment prefix
// (spec §6, "Persisted state layout") so multiple deployments and test
// runs can share one backend without collision. This generalizes the
// teacher's `"queue:"+tenant` / `"delay:"+tenant` idiom
// (internal/queue/redisq.go) to a configurable prefix instead of a
// hardcoded literal.
func readyKey(prefix, queue string) string { return fmt.Sprintf("%s:queue:%s", prefix, queue) }

func lockKey(prefix, name string) string { return fmt.Sprintf("%s:lock:%s", prefix, name) }
