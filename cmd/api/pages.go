package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	homePage = `<h1>Home</h1><p>Please <a href="/register">register</a></p>`

	loginPage = `<h1>Login Page</h1><form method="POST" action="/login">
Enter Username:<br><input type="text" name="uname">
<br>Enter Password:<br><input type="password" name="pw">
<br><br><input type="submit" value="Submit"></form>`

	registerPage = `<h1>Register Page</h1><form method="POST" action="/register">
Enter Username:<br><input type="text" name="uname">
<br>Enter Password:<br><input type="password" name="pw">
<br><br><input type="submit" value="Submit"></form>`

	loginSuccessPage = `<p>You successfully logged in. --> <a href="/protected-route">Go to protected route</a></p>`

	loginFailurePage = `<p>You entered the wrong password.</p>`
)

func htmlPage(body string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(body))
	}
}
