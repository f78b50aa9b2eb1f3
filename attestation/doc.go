/*
Package attestation holds the data model shared by evidence producers and verifiers.

  - [UserData] is the 64-byte value bound into the report data field of a quote.
    It is either caller-supplied bytes or the SHA-256 digest of an info string,
    optionally suffixed with "&time=<unix timestamp>".

  - [Outcome] is the result reported by a quote verification service.
    Whether an outcome is acceptable is decided by a [Policy], which defaults to {Ok}.

  - [Error] carries a [Code] from a closed taxonomy.
    Every operation returns its error per call, use [CodeOf] and [MessageOf] or errors.Is
    with the sentinel errors to classify it.
*/
package attestation
