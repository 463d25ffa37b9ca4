// Package flows contains the orchestrators behind every Engine operation.
//
// Each Run function takes a typed dependency struct and touches nothing else,
// so flows can be tested with fakes and the Engine stays thin. Flows never
// hold state between calls and never import the root package.
package flows
