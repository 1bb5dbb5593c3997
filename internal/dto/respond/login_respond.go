package respond

// AuthRespond 注册、登录、刷新的响应
// Token 与 AccessToken 相同，兼容只认 token 字段的客户端
type AuthRespond struct {
	Message      string       `json:"message"`
	Token        string       `json:"token"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token,omitempty"`
	User         *UserRespond `json:"user,omitempty"`
}
