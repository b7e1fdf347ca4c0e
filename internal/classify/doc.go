// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package classify assigns every snippet a stage and a credibility.
//
// Rules are tried in priority order and the first match wins:
//
//  1. a declared upstream [STAGE|CRED:X] tag, unless the host is on the
//     DEV_COMMUNITY deny list;
//  2. an authority score of OFFICIAL or TRUSTED, which forces the OFFICIAL or
//     DOCS stage;
//  3. membership in the request's domain profile;
//  4. the configured suffix lists, matched on the most specific host suffix;
//  5. the default, NOFILTER_SAFE with UNVERIFIED credibility.
//
// A spam filter runs alongside the rules. Matches are dropped, or kept in the
// NOFILTER stage with a score penalty when that stage is enabled. A
// stage-based boost then derives the citation credibility used for citation
// accounting. Classification is a pure function of the snippet, the policy
// and the loaded rules.
package classify
