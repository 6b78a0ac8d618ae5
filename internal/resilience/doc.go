// Package resilience provides fault tolerance helpers for outbound calls.
//
//   - circuitbreaker: per-(channel, tenant) breakers around provider sends
//   - retry: exponential backoff with jitter, and the re-delivery delay formula
//
// Usage Example:
//
//	breakers := circuitbreaker.NewTenantSet(isSuccessful)
//	err := breakers.Get(circuitbreaker.TenantKey(entity.ChannelEmail, tenantID)).Run(func() error {
//	    return sender.Send(ctx, msg)
//	})
//
//	wait := retry.Delay(retry.FromPolicy(policy.Retry), outcome.RetryCount)
package resilience
