// Package httpapp serves the tiredd JSON API.
//
// Every endpoint is a POST taking and returning JSON, matching the browser
// client's RPC calls. The session token travels as "sessionId" in the body
// or as an "Authorization: Bearer" header.
//
//	POST /login            {username, password}              -> {session, account}
//	POST /logout           {sessionId}                       -> {}
//	POST /readSession      {sessionId}                       -> {session, account}
//	POST /post             {post:{sub,title,url,content}}    -> {post}
//	POST /posts            {sub, min, max, order, limit}     -> {records}
//	                       {sub, mode:"hot"|"new", limit}
//	POST /getPost          {id}                              -> {post}
//	POST /comment          {comment:{postId,parent,content}} -> {comment}
//	POST /comments         {postId, tree}                    -> {records} or {tree}
//	POST /upvotePost       {id}                              -> {score}
//	POST /downvotePost     {id}                              -> {score}
//	POST /upvoteComment    {id}                              -> {score}
//	POST /downvoteComment  {id}                              -> {score}
//	POST /auth/challenge   {alg}                             -> {challenge, alg, expires}
//	POST /auth/key         {alg, publicKey, challenge, signature, sessionId} -> {key}
//	POST /auth/verify      {alg, publicKey, challenge, signature}            -> {session, account}
//	GET  /healthz
//	GET  /metrics
//
// A /posts request without a limit returns at most feed_default_limit posts
// (100 unless configured); pass an explicit limit to get a whole view. A max
// of zero or below means no upper bound, and a range query with only a min at
// or above the hot threshold is ranked by score unless order says otherwise.
//
// Scores are always returned as upvotes, downvotes and their difference.
// Failures return {"error", "kind", "detail"} with these statuses:
//
//	401 unauthenticated, invalid_credentials
//	404 not_found
//	400 invalid_content, invalid_parent, invalid_input
//	409 already_voted
//	429 rate limited (Retry-After set)
//	503 transient
//	500 internal
package httpapp
