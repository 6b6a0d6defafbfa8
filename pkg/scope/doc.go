// Package scope implements the tenant access policy applied to every
// read and write path.
//
// # Overview
//
// All business data is partitioned by tenant. A request's caller carries
// a tenant id and an optional cross-tenant capability; Resolve turns that
// identity plus an optionally requested tenant filter into the effective
// TenantScope every query must compose. StampTenant does the equivalent
// for create paths, deciding which tenant a new row belongs to.
//
// The policy functions are pure so they can be tested without any
// HTTP or database machinery.
package scope
