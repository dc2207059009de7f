// Package secret resolves credentials referenced from configuration.
//
// Configuration text goes through ExpandEnvStrict, so a missing ${VAR}
// fails loudly instead of becoming an empty API key. Individual values may
// also be secret references, resolved by a named Provider:
//
//	secretref:env:OPENAI_API_KEY
//	secretref:file:/run/secrets/jwt_secret
//
// A reference may stand alone or appear inline, as in
// "Bearer secretref:env:TOKEN".
package secret
