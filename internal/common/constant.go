package common

// AuthorizationHeaderName is the HTTP header carrying the device access
// token on outbound requests, in "Bearer <token>" form.
const AuthorizationHeaderName = "Authorization"

// BearerPrefix prefixes the access token inside the Authorization header.
const BearerPrefix = "Bearer "
